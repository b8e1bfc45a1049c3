package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/database/dbtest"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/observability"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.TicketEvent
}

func (p *recordingPublisher) PublishTicketEvent(_ context.Context, e kafka.TicketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

type testEnv struct {
	db       *gorm.DB
	tickets  *TicketService
	accounts *AccountService
	auth     *AuthService
	events   *recordingPublisher
	hasher   auth.PasswordHasher

	admin, techA, techB, client *model.User
	netN, netM                  *model.Network
	storeN, storeM              *model.Store
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	events := &recordingPublisher{}
	env := &testEnv{
		db:     db,
		events: events,
		hasher: hasher,
		tickets: NewTicketService(db, TicketDeps{
			Events:  events,
			Log:     zap.NewNop(),
			Metrics: observability.NewMetrics(),
		}),
		accounts: NewAccountService(db, hasher, AccountDefaults{ClientPassword: "402365", AdminPassword: "040126"}, zap.NewNop()),
		auth:     NewAuthService(db, auth.NewTokenService("secret", "helpdesk-test", time.Hour), hasher, zap.NewNop()),
	}

	env.admin = env.mkUser(t, "admin", model.RoleAdmin)
	env.techA = env.mkUser(t, "tecnico.a", model.RoleTech)
	env.techB = env.mkUser(t, "tecnico.b", model.RoleTech)
	env.client = env.mkUser(t, "12345678000199", model.RoleClient)

	env.netN = &model.Network{ID: "net-n", Name: "Rede Norte", Active: true}
	env.netM = &model.Network{ID: "net-m", Name: "Rede Sul", Active: true}
	require.NoError(t, db.Create(env.netN).Error)
	require.NoError(t, db.Create(env.netM).Error)

	nid, mid := env.netN.ID, env.netM.ID
	env.storeN = &model.Store{ID: "store-n", Name: "Loja Centro", CNPJ: "11111111000111", Active: true, NetworkID: &nid}
	env.storeM = &model.Store{ID: "store-m", Name: "Loja Praia", CNPJ: "22222222000122", Active: true, NetworkID: &mid}
	require.NoError(t, db.Create(env.storeN).Error)
	require.NoError(t, db.Create(env.storeM).Error)
	return env
}

func (e *testEnv) mkUser(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	hash, err := e.hasher.Hash("senha-" + username)
	require.NoError(t, err)
	u := &model.User{ID: "id-" + username, Username: username, PasswordHash: hash, Role: role, Active: true}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) open(t *testing.T, storeID string) *model.Ticket {
	t.Helper()
	tk, err := e.tickets.Create(context.Background(), e.admin, CreateTicketInput{
		StoreID: storeID, Problem: "Printer jammed", Type: "REPARO", Priority: "NORMAL",
	})
	require.NoError(t, err)
	return tk
}

func (e *testEnv) reload(t *testing.T, id string) *model.Ticket {
	t.Helper()
	var tk model.Ticket
	require.NoError(t, e.db.First(&tk, "id = ?", id).Error)
	return &tk
}

func (e *testEnv) history(t *testing.T, id string) []model.TicketUpdate {
	t.Helper()
	var items []model.TicketUpdate
	require.NoError(t, e.db.Where("ticket_id = ?", id).Order("seq").Find(&items).Error)
	return items
}

func eventTypes(items []model.TicketUpdate) []model.EventType {
	out := make([]model.EventType, 0, len(items))
	for _, u := range items {
		out = append(out, u.EventType)
	}
	return out
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, kind), "want %v, got %v", kind, err)
}
