package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

// Message type filters. "all" (or empty) matches everything; the others
// discriminate on attachments.
const (
	TypeAll   = "all"
	TypeText  = "text"
	TypeMedia = "media"
	TypeFile  = "file"
)

// MessagesFilter narrows a history listing. Zero values mean "no
// constraint"; From/To are inclusive UnixNano bounds.
type MessagesFilter struct {
	Thread    string
	OtherUser string
	Search    string
	Type      string
	From      int64
	To        int64
	Page      int
	Limit     int
}

// Page is one page of a newest-first message listing.
type Page struct {
	Data       []models.Message `json:"data"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
	Cached     bool             `json:"cached"`
}

// AgentPage is one page of support agents.
type AgentPage struct {
	Data       []models.User `json:"data"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	Total      int           `json:"total"`
	TotalPages int           `json:"totalPages"`
	Cached     bool          `json:"cached"`
}

func (s *Service) clampPage(page, limit int) (int, int) {
	max := s.cfg.MaxPageLimit
	if max <= 0 {
		max = 100
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > max {
		limit = max
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}

func paginate[T any](items []T, page, limit int) ([]T, int) {
	total := len(items)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start >= total {
		return []T{}, totalPages
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], totalPages
}

func matchesType(m *models.Message, t string) bool {
	switch t {
	case "", TypeAll:
		return true
	case TypeText:
		return len(m.Attachments) == 0
	case TypeFile:
		for _, a := range m.Attachments {
			if a.Type == models.AttachmentFile {
				return true
			}
		}
		return false
	case TypeMedia:
		for _, a := range m.Attachments {
			switch a.Type {
			case models.AttachmentImage, models.AttachmentAudio, models.AttachmentVideo:
				return true
			}
		}
		return false
	}
	return false
}

// collect scans the store for non-deleted messages visible to caller
// that satisfy pred, sorted newest-first.
func collect(callerID, threadID string, pred func(*models.Message) bool) ([]models.Message, error) {
	var out []models.Message
	err := store.ScanMessages(threadID, func(_ string, m *models.Message) bool {
		if m.DeletedTS != 0 {
			return true
		}
		if m.Sender != callerID && m.Receiver != callerID {
			return true
		}
		if pred != nil && !pred(m) {
			return true
		}
		out = append(out, *m)
		return true
	})
	if err != nil {
		return nil, storageErr("scan messages", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS > out[j].CreatedTS })
	return out, nil
}

// Messages lists the caller's visible history, newest first. An
// unauthenticated caller gets an empty page, not an error; guests only
// see messages once their first send has given them a user id.
func (s *Service) Messages(callerID string, f MessagesFilter) (*Page, error) {
	page, limit := s.clampPage(f.Page, f.Limit)
	if callerID == "" {
		return &Page{Data: []models.Message{}, Page: page, Limit: limit}, nil
	}
	key := fmt.Sprintf("messages:%s:%s:%s:%s:%s:%d:%d:%d:%d",
		callerID, f.Thread, f.OtherUser, strings.ToLower(f.Search), f.Type, f.From, f.To, page, limit)
	if v, ok := s.cache.Get(key); ok {
		p := *v.(*Page)
		p.Cached = true
		return &p, nil
	}

	needle := strings.ToLower(f.Search)
	all, err := collect(callerID, f.Thread, func(m *models.Message) bool {
		if f.OtherUser != "" {
			pair := (m.Sender == callerID && m.Receiver == f.OtherUser) ||
				(m.Sender == f.OtherUser && m.Receiver == callerID)
			if !pair {
				return false
			}
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Content), needle) {
			return false
		}
		if f.From != 0 && m.CreatedTS < f.From {
			return false
		}
		if f.To != 0 && m.CreatedTS > f.To {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	data, totalPages := paginate(all, page, limit)
	p := &Page{Data: data, Page: page, Limit: limit, Total: len(all), TotalPages: totalPages}
	s.cache.Set(key, p)
	return p, nil
}

// SearchFilter narrows Search beyond the query string.
type SearchFilter struct {
	Thread string
	Sender string
	Type   string
	From   int64
	To     int64
	Page   int
	Limit  int
}

// Search is like Messages but requires an authenticated caller and a
// non-empty query, and additionally filters by sender and message type.
func (s *Service) Search(callerID, query string, f SearchFilter) (*Page, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationf("search query is required")
	}
	page, limit := s.clampPage(f.Page, f.Limit)
	key := fmt.Sprintf("search:%s:%s:%s:%s:%s:%d:%d:%d:%d",
		callerID, strings.ToLower(query), f.Thread, f.Sender, f.Type, f.From, f.To, page, limit)
	if v, ok := s.cache.Get(key); ok {
		p := *v.(*Page)
		p.Cached = true
		return &p, nil
	}

	needle := strings.ToLower(query)
	all, err := collect(callerID, f.Thread, func(m *models.Message) bool {
		if !strings.Contains(strings.ToLower(m.Content), needle) {
			return false
		}
		if f.Sender != "" && m.Sender != f.Sender {
			return false
		}
		if !matchesType(m, f.Type) {
			return false
		}
		if f.From != 0 && m.CreatedTS < f.From {
			return false
		}
		if f.To != 0 && m.CreatedTS > f.To {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	data, totalPages := paginate(all, page, limit)
	p := &Page{Data: data, Page: page, Limit: limit, Total: len(all), TotalPages: totalPages}
	s.cache.Set(key, p)
	return p, nil
}

// StatsScope narrows a stats computation.
type StatsScope struct {
	Thread    string
	OtherUser string
	From      int64
	To        int64
}

// Stats computes conversation aggregates for the caller: four
// independent counts over the same scope, run concurrently.
// AverageResponseTime stays null.
func (s *Service) Stats(callerID string, scope StatsScope) (*models.ConversationStats, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	key := fmt.Sprintf("stats:%s:%s:%s:%d:%d", callerID, scope.Thread, scope.OtherUser, scope.From, scope.To)
	if v, ok := s.cache.Get(key); ok {
		st := *v.(*models.ConversationStats)
		return &st, nil
	}

	inScope := func(m *models.Message) bool {
		if m.DeletedTS != 0 {
			return false
		}
		if scope.OtherUser != "" && m.Sender != scope.OtherUser && m.Receiver != scope.OtherUser {
			return false
		}
		if scope.From != 0 && m.CreatedTS < scope.From {
			return false
		}
		if scope.To != 0 && m.CreatedTS > scope.To {
			return false
		}
		return true
	}
	count := func(pred func(*models.Message) bool, dst *int64, errOut *error) {
		var n int64
		err := store.ScanMessages(scope.Thread, func(_ string, m *models.Message) bool {
			if inScope(m) && pred(m) {
				n++
			}
			return true
		})
		*dst = n
		*errOut = err
	}

	var st models.ConversationStats
	var errs [4]error
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		count(func(m *models.Message) bool {
			return m.Sender == callerID || m.Receiver == callerID
		}, &st.TotalMessages, &errs[0])
	}()
	go func() {
		defer wg.Done()
		count(func(m *models.Message) bool { return m.Sender == callerID }, &st.SentMessages, &errs[1])
	}()
	go func() {
		defer wg.Done()
		count(func(m *models.Message) bool { return m.Receiver == callerID }, &st.ReceivedMessages, &errs[2])
	}()
	go func() {
		defer wg.Done()
		count(func(m *models.Message) bool {
			return m.Receiver == callerID && !m.IsRead
		}, &st.UnreadCount, &errs[3])
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, storageErr("count messages", err)
		}
	}
	s.cache.Set(key, &st)
	return &st, nil
}

// SupportAgents lists users holding the agent role, optionally scoped
// by agency. Public: no caller required.
func (s *Service) SupportAgents(agency string, page, limit int) (*AgentPage, error) {
	page, limit = s.clampPage(page, limit)
	key := fmt.Sprintf("agents:%s:%d:%d", agency, page, limit)
	if v, ok := s.cache.Get(key); ok {
		p := *v.(*AgentPage)
		p.Cached = true
		return &p, nil
	}
	agents, err := store.ListUsersByRole(models.RoleAgent, agency)
	if err != nil {
		return nil, storageErr("list agents", err)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	data, totalPages := paginate(agents, page, limit)
	p := &AgentPage{Data: data, Page: page, Limit: limit, Total: len(agents), TotalPages: totalPages}
	s.cache.Set(key, p)
	return p, nil
}
