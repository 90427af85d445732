package engine

import (
	"fmt"
	"sort"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// Item is one served question with its display number and passage, if any.
type Item struct {
	Number   int              `json:"number"`
	Question *models.Question `json:"question"`
	Passage  *models.Passage  `json:"passage,omitempty"`
}

// QuestionSet is the ordered, immutable list of questions served in a session.
type QuestionSet struct {
	items    []Item
	position map[uint]int
	passages map[uint]*models.Passage
}

func (qs *QuestionSet) Len() int {
	return len(qs.items)
}

func (qs *QuestionSet) Items() []Item {
	out := make([]Item, len(qs.items))
	copy(out, qs.items)
	return out
}

func (qs *QuestionSet) At(index int) (Item, error) {
	if index < 0 || index >= len(qs.items) {
		return Item{}, ErrQuestionIndexOutOfRange
	}
	return qs.items[index], nil
}

// Question looks a served question up by id.
func (qs *QuestionSet) Question(id uint) (*models.Question, bool) {
	pos, ok := qs.position[id]
	if !ok {
		return nil, false
	}
	return qs.items[pos].Question, true
}

func (qs *QuestionSet) IndexOf(id uint) (int, bool) {
	pos, ok := qs.position[id]
	return pos, ok
}

func (qs *QuestionSet) Passage(id uint) (*models.Passage, bool) {
	p, ok := qs.passages[id]
	return p, ok
}

// IDs returns question ids in served order.
func (qs *QuestionSet) IDs() []uint {
	ids := make([]uint, len(qs.items))
	for i, it := range qs.items {
		ids[i] = it.Question.ID
	}
	return ids
}

// Parts returns the distinct parts present, ascending.
func (qs *QuestionSet) Parts() []models.Part {
	seen := make(map[models.Part]bool)
	var parts []models.Part
	for _, it := range qs.items {
		if !seen[it.Question.Part] {
			seen[it.Question.Part] = true
			parts = append(parts, it.Question.Part)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts
}

// unit is either a single question or a whole passage group.
type unit struct {
	part      models.Part
	order     int
	tieBreak  uint
	questions []*models.Question
}

// Assemble orders questions by part then authored order, keeps every passage
// group contiguous, and widens a part filter so no group is split.
func Assemble(questions []models.Question, passages []models.Passage, parts []models.Part) (*QuestionSet, error) {
	passageIndex := indexPassages(passages)

	selected := selectQuestions(questions, parts)
	if len(selected) == 0 {
		return nil, ErrEmptyQuestionSet
	}

	groups := make(map[uint]*unit)
	var units []*unit
	for _, q := range selected {
		if q.PassageID == nil {
			units = append(units, &unit{
				part:      q.Part,
				order:     q.OrderIndex,
				tieBreak:  q.ID,
				questions: []*models.Question{q},
			})
			continue
		}
		g, ok := groups[*q.PassageID]
		if !ok {
			g = &unit{part: q.Part, order: q.OrderIndex, tieBreak: *q.PassageID}
			groups[*q.PassageID] = g
			units = append(units, g)
		}
		g.questions = append(g.questions, q)
		if q.Part < g.part {
			g.part = q.Part
		}
		if q.OrderIndex < g.order {
			g.order = q.OrderIndex
		}
	}

	for id, g := range groups {
		if p, ok := passageIndex[id]; ok && p.StartQuestionNumber != nil {
			g.order = *p.StartQuestionNumber
		}
		sort.SliceStable(g.questions, func(i, j int) bool {
			return memberLess(g.questions[i], g.questions[j])
		})
	}

	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.part != b.part {
			return a.part < b.part
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.tieBreak < b.tieBreak
	})

	var ordered []*models.Question
	for _, u := range units {
		ordered = append(ordered, u.questions...)
	}
	return build(ordered, passageIndex), nil
}

// Replay rebuilds a question set in exactly the given served order.
func Replay(questions []models.Question, passages []models.Passage, servedIDs []uint) (*QuestionSet, error) {
	if len(servedIDs) == 0 {
		return nil, ErrEmptyQuestionSet
	}

	byID := make(map[uint]*models.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	ordered := make([]*models.Question, 0, len(servedIDs))
	for _, id := range servedIDs {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %d: %w", id, ErrServedQuestionMissing)
		}
		ordered = append(ordered, q)
	}
	return build(ordered, indexPassages(passages)), nil
}

func selectQuestions(questions []models.Question, parts []models.Part) []*models.Question {
	all := make([]*models.Question, 0, len(questions))
	for i := range questions {
		all = append(all, &questions[i])
	}
	if len(parts) == 0 {
		return all
	}

	wanted := make(map[models.Part]bool, len(parts))
	for _, p := range parts {
		wanted[p] = true
	}

	// A passage with any selected member pulls in the whole group.
	groups := make(map[uint]bool)
	for _, q := range all {
		if wanted[q.Part] && q.PassageID != nil {
			groups[*q.PassageID] = true
		}
	}

	var selected []*models.Question
	for _, q := range all {
		if wanted[q.Part] || (q.PassageID != nil && groups[*q.PassageID]) {
			selected = append(selected, q)
		}
	}
	return selected
}

func memberLess(a, b *models.Question) bool {
	if a.BlankIndex != nil && b.BlankIndex != nil && *a.BlankIndex != *b.BlankIndex {
		return *a.BlankIndex < *b.BlankIndex
	}
	if a.OrderIndex != b.OrderIndex {
		return a.OrderIndex < b.OrderIndex
	}
	return a.ID < b.ID
}

func indexPassages(passages []models.Passage) map[uint]*models.Passage {
	index := make(map[uint]*models.Passage, len(passages))
	for i := range passages {
		index[passages[i].ID] = &passages[i]
	}
	return index
}

func build(ordered []*models.Question, passages map[uint]*models.Passage) *QuestionSet {
	qs := &QuestionSet{
		items:    make([]Item, len(ordered)),
		position: make(map[uint]int, len(ordered)),
		passages: passages,
	}
	for i, q := range ordered {
		item := Item{Number: i + 1, Question: q}
		if q.PassageID != nil {
			item.Passage = passages[*q.PassageID]
		}
		qs.items[i] = item
		qs.position[q.ID] = i
	}
	return qs
}
