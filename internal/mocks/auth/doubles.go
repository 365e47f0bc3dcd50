package auth

// Package auth contains simple hand-written in-memory doubles for the
// identity ports. These are lightweight and suitable for unit tests without
// codegen or a database.

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// Ensure compile-time conformance to the ports.
var (
	_ core.UserRepository       = (*MemUserRepo)(nil)
	_ core.CredentialRepository = (*MemCredentialRepo)(nil)
	_ core.ScopeRepository      = (*MemScopeRepo)(nil)
	_ core.GroupRepository      = (*MemGroupRepo)(nil)
	_ core.SessionRepository    = (*MemSessionRepo)(nil)
	_ core.OptionRepository     = (*MemOptionRepo)(nil)
	_ core.EventPublisher       = (*CaptureEventPublisher)(nil)
	_ core.UserUpdateNotifier   = (*CaptureNotifier)(nil)
)

// MemUserRepo is an in-memory UserRepository.
type MemUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func NewMemUserRepo() *MemUserRepo {
	return &MemUserRepo{users: make(map[string]*model.User)}
}

func (r *MemUserRepo) Create(_ context.Context) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	u := &model.User{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	r.users[u.ID] = u
	return u, nil
}

func (r *MemUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsDeleted {
		return nil, data.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemUserRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsDeleted {
		return data.ErrUserNotFound
	}
	u.IsDeleted = true
	return nil
}

// MemCredentialRepo is an in-memory CredentialRepository.
type MemCredentialRepo struct {
	mu   sync.Mutex
	rows []*model.CredentialParam
}

func NewMemCredentialRepo() *MemCredentialRepo {
	return &MemCredentialRepo{}
}

func (r *MemCredentialRepo) Set(_ context.Context, p model.SetCredentialParam) (*model.CredentialParam, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, row := range r.rows {
		if row.UserID == p.UserID && row.Method == p.Method && row.Key == p.Key && !row.IsDeleted {
			row.Value = p.Value
			row.UpdatedAt = now
			cp := *row
			return &cp, nil
		}
	}
	// Mirror the identity-uniqueness index: an email or subject value may
	// live on at most one user per method.
	if p.Key == model.ParamEmail || p.Key == model.ParamSubject {
		for _, row := range r.rows {
			if row.Method == p.Method && row.Key == p.Key && row.Value == p.Value && !row.IsDeleted {
				return nil, data.ErrDuplicateCredential
			}
		}
	}
	row := &model.CredentialParam{
		ID: uuid.NewString(), UserID: p.UserID, Method: p.Method, Key: p.Key,
		Value: p.Value, CreatedAt: now, UpdatedAt: now,
	}
	r.rows = append(r.rows, row)
	cp := *row
	return &cp, nil
}

func (r *MemCredentialRepo) Get(_ context.Context, userID, method, key string) (*model.CredentialParam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Method == method && row.Key == key && !row.IsDeleted {
			cp := *row
			return &cp, nil
		}
	}
	return nil, data.ErrCredentialNotFound
}

func (r *MemCredentialRepo) ListByUserMethod(_ context.Context, userID, method string) ([]model.CredentialParam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CredentialParam
	for _, row := range r.rows {
		if row.UserID == userID && row.Method == method && !row.IsDeleted {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *MemCredentialRepo) FindUserID(_ context.Context, method, key, value string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Method == method && row.Key == key && row.Value == value && !row.IsDeleted {
			return row.UserID, nil
		}
	}
	return "", data.ErrCredentialNotFound
}

func (r *MemCredentialRepo) ListMethods(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, row := range r.rows {
		if row.UserID == userID && !row.IsDeleted {
			if _, dup := seen[row.Method]; !dup {
				seen[row.Method] = struct{}{}
				out = append(out, row.Method)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemCredentialRepo) SoftDeleteMethod(_ context.Context, userID, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Method == method {
			row.IsDeleted = true
		}
	}
	return nil
}

func (r *MemCredentialRepo) SoftDeleteParam(_ context.Context, userID, method, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Method == method && row.Key == key {
			row.IsDeleted = true
		}
	}
	return nil
}

// MemScopeRepo is an in-memory ScopeRepository.
type MemScopeRepo struct {
	mu     sync.Mutex
	scopes map[string]*model.Scope // by name
}

func NewMemScopeRepo() *MemScopeRepo {
	return &MemScopeRepo{scopes: make(map[string]*model.Scope)}
}

func (r *MemScopeRepo) Create(_ context.Context, name, comment string, creatorID *string) (*model.Scope, error) {
	if err := model.ValidateScopeName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.scopes[name]; dup {
		return nil, data.ErrScopeNameExists
	}
	s := &model.Scope{
		ID: uuid.NewString(), Name: name, Comment: comment,
		CreatorID: creatorID, CreatedAt: time.Now(),
	}
	r.scopes[name] = s
	cp := *s
	return &cp, nil
}

func (r *MemScopeRepo) GetByName(_ context.Context, name string) (*model.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[name]
	if !ok {
		return nil, data.ErrScopeNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemScopeRepo) GetByNames(_ context.Context, names []string) ([]model.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Scope, 0, len(names))
	for _, name := range names {
		s, ok := r.scopes[name]
		if !ok {
			return nil, data.ErrScopeNotFound
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *MemScopeRepo) ListNames(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.scopes))
	for name := range r.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// nameByID resolves a scope id back to its name, for DirectScopeNames.
func (r *MemScopeRepo) nameByID(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.scopes {
		if s.ID == id {
			return name, true
		}
	}
	return "", false
}

// MemGroupRepo is an in-memory GroupRepository. It shares a MemScopeRepo so
// scope ids granted to groups resolve back to names.
type MemGroupRepo struct {
	mu          sync.Mutex
	scopes      *MemScopeRepo
	groups      map[string]*model.Group
	groupScopes map[string]map[string]struct{} // group id -> scope ids
	members     map[string]map[string]struct{} // group id -> user ids
}

func NewMemGroupRepo(scopes *MemScopeRepo) *MemGroupRepo {
	return &MemGroupRepo{
		scopes:      scopes,
		groups:      make(map[string]*model.Group),
		groupScopes: make(map[string]map[string]struct{}),
		members:     make(map[string]map[string]struct{}),
	}
}

func (r *MemGroupRepo) Create(_ context.Context, req model.CreateGroupRequest) (*model.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Name == req.Name && !g.IsDeleted {
			return nil, data.ErrGroupNameExists
		}
	}
	now := time.Now()
	g := &model.Group{
		ID: uuid.NewString(), Name: req.Name, ParentID: req.ParentID,
		CreatedAt: now, UpdatedAt: now,
	}
	r.groups[g.ID] = g
	cp := *g
	return &cp, nil
}

func (r *MemGroupRepo) GetByID(_ context.Context, id string) (*model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok || g.IsDeleted {
		return nil, data.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *MemGroupRepo) GetByName(_ context.Context, name string) (*model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Name == name && !g.IsDeleted {
			cp := *g
			return &cp, nil
		}
	}
	return nil, data.ErrGroupNotFound
}

func (r *MemGroupRepo) SetParent(_ context.Context, groupID string, parentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok || g.IsDeleted {
		return data.ErrGroupNotFound
	}
	g.ParentID = parentID
	g.UpdatedAt = time.Now()
	return nil
}

func (r *MemGroupRepo) SoftDeleteSplice(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok || g.IsDeleted {
		return data.ErrGroupNotFound
	}
	for _, child := range r.groups {
		if child.ParentID != nil && *child.ParentID == id && !child.IsDeleted {
			child.ParentID = g.ParentID
		}
	}
	g.IsDeleted = true
	delete(r.members, id)
	return nil
}

func (r *MemGroupRepo) AddScope(_ context.Context, groupID, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return data.ErrGroupNotFound
	}
	if r.groupScopes[groupID] == nil {
		r.groupScopes[groupID] = make(map[string]struct{})
	}
	r.groupScopes[groupID][scopeID] = struct{}{}
	return nil
}

func (r *MemGroupRepo) RemoveScope(_ context.Context, groupID, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groupScopes[groupID], scopeID)
	return nil
}

func (r *MemGroupRepo) DirectScopeNames(_ context.Context, groupID string) ([]string, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.groupScopes[groupID]))
	for id := range r.groupScopes[groupID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := r.scopes.nameByID(id); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemGroupRepo) AddMember(_ context.Context, groupID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok || g.IsDeleted {
		return data.ErrGroupNotFound
	}
	if r.members[groupID] == nil {
		r.members[groupID] = make(map[string]struct{})
	}
	r.members[groupID][userID] = struct{}{}
	return nil
}

func (r *MemGroupRepo) RemoveMember(_ context.Context, groupID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[groupID], userID)
	return nil
}

func (r *MemGroupRepo) MemberGroupIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for groupID, users := range r.members {
		if g, ok := r.groups[groupID]; !ok || g.IsDeleted {
			continue
		}
		if _, member := users[userID]; member {
			out = append(out, groupID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MemSessionRepo is an in-memory SessionRepository with the same rotation
// semantics as the Postgres implementation.
type MemSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session // by id
}

func NewMemSessionRepo() *MemSessionRepo {
	return &MemSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *MemSessionRepo) Create(_ context.Context, sess *model.Session) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sess
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Scopes = append([]string(nil), sess.Scopes...)
	r.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemSessionRepo) GetByToken(_ context.Context, token string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		if sess.Token == token {
			cp := *sess
			cp.Scopes = append([]string(nil), sess.Scopes...)
			return &cp, nil
		}
	}
	return nil, data.ErrSessionNotFound
}

func (r *MemSessionRepo) Touch(_ context.Context, id string, lastActivity time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return data.ErrSessionNotFound
	}
	sess.LastActivity = lastActivity
	return nil
}

func (r *MemSessionRepo) SetExpires(_ context.Context, id string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return data.ErrSessionNotFound
	}
	sess.Expires = expires
	return nil
}

func (r *MemSessionRepo) Rotate(_ context.Context, oldID string, revokedAt time.Time, replacement *model.Session) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[oldID]
	if !ok || !old.Expires.After(revokedAt) {
		return nil, data.ErrSessionNotFound
	}
	old.Expires = revokedAt

	cp := *replacement
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Scopes = append([]string(nil), replacement.Scopes...)
	r.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemSessionRepo) RevokeAllForUser(_ context.Context, userID, keepID string, revokedAt time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tokens []string
	for _, sess := range r.sessions {
		if sess.UserID == userID && sess.ID != keepID && sess.Expires.After(revokedAt) {
			sess.Expires = revokedAt
			tokens = append(tokens, sess.Token)
		}
	}
	return tokens, nil
}

// MemOptionRepo is an in-memory OptionRepository.
type MemOptionRepo struct {
	mu      sync.Mutex
	options map[string]string
}

func NewMemOptionRepo() *MemOptionRepo {
	return &MemOptionRepo{options: make(map[string]string)}
}

func (r *MemOptionRepo) Get(_ context.Context, name string) (*model.DynamicOption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.options[name]
	if !ok {
		return nil, data.ErrOptionNotFound
	}
	v := value
	return &model.DynamicOption{Name: name, StrValue: &v}, nil
}

func (r *MemOptionRepo) SetString(_ context.Context, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[name] = value
	return nil
}

// CaptureEventPublisher records published events.
type CaptureEventPublisher struct {
	mu     sync.Mutex
	Events []CapturedEvent
	Err    error
}

type CapturedEvent struct {
	Topic   string
	Key     string
	Payload any
}

func (p *CaptureEventPublisher) Publish(_ context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, CapturedEvent{Topic: topic, Key: key, Payload: payload})
	return nil
}

// CaptureNotifier records Notify invocations without fanning out.
type CaptureNotifier struct {
	mu    sync.Mutex
	Calls []NotifyCall
}

type NotifyCall struct {
	Origin  string
	NewDiff *model.UserDiff
	OldDiff *model.UserDiff
}

func (n *CaptureNotifier) Notify(_ context.Context, origin string, newDiff, oldDiff *model.UserDiff) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls = append(n.Calls, NotifyCall{Origin: origin, NewDiff: newDiff, OldDiff: oldDiff})
}

// Len returns the number of recorded notify calls.
func (n *CaptureNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Calls)
}
