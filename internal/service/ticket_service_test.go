package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/access"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestCreateTicket(t *testing.T) {
	env := newEnv(t)
	tk := env.open(t, env.storeN.ID)

	assert.Equal(t, model.StatusAberto, tk.Status)
	assert.Nil(t, tk.AssignedTechID)
	assert.Equal(t, env.admin.ID, tk.OpenedByID)
	assert.Equal(t, int64(1), tk.Version)

	h := env.history(t, tk.ID)
	require.Len(t, h, 1)
	assert.Equal(t, model.EventCreate, h[0].EventType)
	assert.Equal(t, int64(1), h[0].Seq)
	p, err := h[0].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, &model.CreatePayload{Status: model.StatusAberto, StoreID: env.storeN.ID, Type: model.TypeReparo, Priority: model.PriorityNormal}, p)

	assert.Eventually(t, func() bool {
		names := env.events.names()
		return len(names) == 1 && names[0] == kafka.EventTicketCreated
	}, time.Second, 10*time.Millisecond)
}

func TestCreateTicketRejections(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	valid := CreateTicketInput{StoreID: env.storeN.ID, Problem: "Printer jammed", Type: "REPARO", Priority: "NORMAL"}

	_, err := env.tickets.Create(ctx, env.techA, valid)
	requireKind(t, err, errs.ErrForbidden)
	_, err = env.tickets.Create(ctx, env.client, valid)
	requireKind(t, err, errs.ErrForbidden)

	in := valid
	in.StoreID = "missing"
	_, err = env.tickets.Create(ctx, env.admin, in)
	requireKind(t, err, errs.ErrNotFound)

	require.NoError(t, env.db.Model(&model.Store{}).Where("id = ?", env.storeM.ID).Update("active", false).Error)
	in = valid
	in.StoreID = env.storeM.ID
	_, err = env.tickets.Create(ctx, env.admin, in)
	requireKind(t, err, errs.ErrNotFound)

	in = valid
	in.Problem = "   "
	_, err = env.tickets.Create(ctx, env.admin, in)
	requireKind(t, err, errs.ErrValidation)

	in = valid
	in.Type = "LIMPEZA"
	_, err = env.tickets.Create(ctx, env.admin, in)
	requireKind(t, err, errs.ErrValidation)

	in = valid
	in.Priority = "BAIXA"
	_, err = env.tickets.Create(ctx, env.admin, in)
	requireKind(t, err, errs.ErrValidation)

	var n int64
	require.NoError(t, env.db.Model(&model.Ticket{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateTicketAcceptsLabels(t *testing.T) {
	env := newEnv(t)
	name := "  Maria  "
	tk, err := env.tickets.Create(context.Background(), env.admin, CreateTicketInput{
		StoreID: env.storeN.ID, RequesterName: &name, Problem: "Instalar PDV", Type: "Instalação", Priority: "Urgente",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeInstalacao, tk.Type)
	assert.Equal(t, model.PriorityUrgente, tk.Priority)
	require.NotNil(t, tk.RequesterName)
	assert.Equal(t, "Maria", *tk.RequesterName)
}

func TestSelfClaim(t *testing.T) {
	env := newEnv(t)
	tk := env.open(t, env.storeN.ID)

	got, err := env.tickets.Assign(context.Background(), env.techA, tk.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAtribuido, got.Status)
	require.NotNil(t, got.AssignedTechID)
	assert.Equal(t, env.techA.ID, *got.AssignedTechID)
	assert.NotNil(t, got.AssignedAt)

	stored := env.reload(t, tk.ID)
	assert.Equal(t, model.StatusAtribuido, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	h := env.history(t, tk.ID)
	assert.Equal(t, []model.EventType{model.EventCreate, model.EventAssign, model.EventStatusChange}, eventTypes(h))
	p, err := h[2].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, &model.StatusChangePayload{From: model.StatusAberto, To: model.StatusAtribuido}, p)
}

func TestAssignIsIdempotentForSameTech(t *testing.T) {
	env := newEnv(t)
	tk := env.open(t, env.storeN.ID)
	ctx := context.Background()

	first, err := env.tickets.Assign(ctx, env.techA, tk.ID, "")
	require.NoError(t, err)
	second, err := env.tickets.Assign(ctx, env.techA, tk.ID, env.techA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAtribuido, second.Status)
	require.NotNil(t, second.AssignedAt)
	assert.WithinDuration(t, *first.AssignedAt, *second.AssignedAt, time.Millisecond)

	assert.Equal(t, []model.EventType{
		model.EventCreate, model.EventAssign, model.EventStatusChange, model.EventAssign,
	}, eventTypes(env.history(t, tk.ID)))
}

func TestAssignRules(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	_, err := env.tickets.Assign(ctx, env.client, tk.ID, "")
	requireKind(t, err, errs.ErrForbidden)

	_, err = env.tickets.Assign(ctx, env.techA, tk.ID, env.techB.ID)
	requireKind(t, err, errs.ErrForbidden)

	_, err = env.tickets.Assign(ctx, env.techA, "missing", "")
	requireKind(t, err, errs.ErrNotFound)

	_, err = env.tickets.Assign(ctx, env.admin, tk.ID, "")
	requireKind(t, err, errs.ErrValidation)

	_, err = env.tickets.Assign(ctx, env.admin, tk.ID, env.client.ID)
	requireKind(t, err, errs.ErrNotFound)

	require.NoError(t, env.db.Model(&model.User{}).Where("id = ?", env.techB.ID).Update("active", false).Error)
	_, err = env.tickets.Assign(ctx, env.admin, tk.ID, env.techB.ID)
	requireKind(t, err, errs.ErrNotFound)

	_, err = env.tickets.Assign(ctx, env.techA, tk.ID, "")
	require.NoError(t, err)

	// another technician cannot take it over
	require.NoError(t, env.db.Model(&model.User{}).Where("id = ?", env.techB.ID).Update("active", true).Error)
	env.techB.Active = true
	_, err = env.tickets.Assign(ctx, env.techB, tk.ID, "")
	requireKind(t, err, errs.ErrConflict)

	// but an admin can reassign
	got, err := env.tickets.Assign(ctx, env.admin, tk.ID, env.techB.ID)
	require.NoError(t, err)
	assert.Equal(t, env.techB.ID, *got.AssignedTechID)
	assert.Equal(t, model.StatusAtribuido, got.Status)

	h := env.history(t, tk.ID)
	last, err := h[len(h)-1].DecodePayload()
	require.NoError(t, err)
	prev := env.techA.ID
	assert.Equal(t, &model.AssignPayload{TechID: env.techB.ID, PreviousTechID: &prev}, last)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env := newEnv(t)
	tk := env.open(t, env.storeN.ID)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, tech := range []*model.User{env.techA, env.techB} {
		wg.Add(1)
		go func(i int, tech *model.User) {
			defer wg.Done()
			_, results[i] = env.tickets.Assign(context.Background(), tech, tk.ID, "")
		}(i, tech)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	stored := env.reload(t, tk.ID)
	assert.Equal(t, model.StatusAtribuido, stored.Status)
	require.NotNil(t, stored.AssignedTechID)

	var statusChanges int64
	require.NoError(t, env.db.Model(&model.TicketUpdate{}).
		Where("ticket_id = ? AND event_type = ?", tk.ID, model.EventStatusChange).Count(&statusChanges).Error)
	assert.Equal(t, int64(1), statusChanges)
}

func TestStartAndPend(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	_, err := env.tickets.Start(ctx, env.techA, tk.ID, nil)
	requireKind(t, err, errs.ErrForbidden)

	_, err = env.tickets.Assign(ctx, env.techA, tk.ID, "")
	require.NoError(t, err)

	_, err = env.tickets.Start(ctx, env.admin, tk.ID, nil)
	requireKind(t, err, errs.ErrForbidden)
	_, err = env.tickets.Start(ctx, env.techB, tk.ID, nil)
	requireKind(t, err, errs.ErrForbidden)
	_, err = env.tickets.Pend(ctx, env.techA, tk.ID, nil)
	requireKind(t, err, errs.ErrConflict)

	note := "a caminho"
	got, err := env.tickets.Start(ctx, env.techA, tk.ID, &note)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEmAtendimento, got.Status)
	assert.NotNil(t, got.StartedAt)

	got, err = env.tickets.Pend(ctx, env.techA, tk.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendente, got.Status)

	got, err = env.tickets.Start(ctx, env.techA, tk.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEmAtendimento, got.Status)

	h := env.history(t, tk.ID)
	require.Len(t, h, 6)
	require.NotNil(t, h[3].Note)
	assert.Equal(t, "a caminho", *h[3].Note)
	for i, u := range h {
		assert.Equal(t, int64(i+1), u.Seq)
	}
}

func TestCloseRequiresLongResolution(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)
	_, err := env.tickets.Assign(ctx, env.techA, tk.ID, "")
	require.NoError(t, err)

	_, err = env.tickets.Close(ctx, env.techA, tk.ID, "Resolvido.")
	requireKind(t, err, errs.ErrValidation)
	_, err = env.tickets.Close(ctx, env.techA, tk.ID, "   Resolvido.     ")
	requireKind(t, err, errs.ErrValidation)

	assert.Equal(t, model.StatusAtribuido, env.reload(t, tk.ID).Status)
	var n int64
	require.NoError(t, env.db.Model(&model.TicketClosure{}).Where("ticket_id = ?", tk.ID).Count(&n).Error)
	assert.Zero(t, n)

	// counted in characters, not bytes
	_, err = env.tickets.Close(ctx, env.techA, tk.ID, strings.Repeat("é", 14))
	requireKind(t, err, errs.ErrValidation)
	_, err = env.tickets.Close(ctx, env.techA, tk.ID, strings.Repeat("é", 15))
	require.NoError(t, err)
}

func TestDoubleClose(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)
	_, err := env.tickets.Assign(ctx, env.techA, tk.ID, "")
	require.NoError(t, err)
	_, err = env.tickets.Start(ctx, env.techA, tk.ID, nil)
	require.NoError(t, err)

	resolution := "Trocado o rolo da impressora"
	detail, err := env.tickets.Close(ctx, env.techA, tk.ID, resolution)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConcluido, detail.Status)
	require.NotNil(t, detail.Closure)
	assert.Equal(t, resolution, detail.Closure.ResolutionText)
	assert.NotNil(t, detail.ClosedAt)

	before := env.reload(t, tk.ID)
	_, err = env.tickets.Close(ctx, env.techA, tk.ID, resolution)
	requireKind(t, err, errs.ErrConflict)
	assert.EqualError(t, err, "ticket already closed")
	after := env.reload(t, tk.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, model.StatusConcluido, after.Status)

	var closures int64
	require.NoError(t, env.db.Model(&model.TicketClosure{}).Where("ticket_id = ?", tk.ID).Count(&closures).Error)
	assert.Equal(t, int64(1), closures)

	h := env.history(t, tk.ID)
	assert.Equal(t, []model.EventType{model.EventClose, model.EventStatusChange}, eventTypes(h[len(h)-2:]))
	p, err := h[len(h)-2].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, &model.ClosePayload{ResolutionLength: len(resolution)}, p)

	// terminal tickets cannot be reassigned or edited
	_, err = env.tickets.Assign(ctx, env.admin, tk.ID, env.techB.ID)
	requireKind(t, err, errs.ErrConflict)
	problem := "Outro problema"
	_, err = env.tickets.Edit(ctx, env.admin, tk.ID, EditTicketInput{Problem: &problem})
	requireKind(t, err, errs.ErrConflict)
}

func TestClosureExistsIffConcluded(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	closed := env.open(t, env.storeN.ID)
	_, err := env.tickets.Assign(ctx, env.techA, closed.ID, "")
	require.NoError(t, err)
	_, err = env.tickets.Close(ctx, env.techA, closed.ID, "Equipamento substituído")
	require.NoError(t, err)
	env.open(t, env.storeN.ID)
	pending := env.open(t, env.storeM.ID)
	_, err = env.tickets.Assign(ctx, env.techB, pending.ID, "")
	require.NoError(t, err)

	var tickets []model.Ticket
	require.NoError(t, env.db.Find(&tickets).Error)
	for _, tk := range tickets {
		var n int64
		require.NoError(t, env.db.Model(&model.TicketClosure{}).Where("ticket_id = ?", tk.ID).Count(&n).Error)
		if tk.Status == model.StatusConcluido {
			assert.Equal(t, int64(1), n, tk.ID)
		} else {
			assert.Zero(t, n, tk.ID)
		}
		if tk.AssignedTechID != nil {
			var u model.User
			require.NoError(t, env.db.First(&u, "id = ?", *tk.AssignedTechID).Error)
			assert.True(t, u.IsActiveTech())
		}
	}
}

func TestEdit(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	problem := "  Printer jammed again "
	prio := "URGENTE"
	loc := "Caixa 3"
	got, err := env.tickets.Edit(ctx, env.admin, tk.ID, EditTicketInput{Problem: &problem, Priority: &prio, Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Printer jammed again", got.Problem)
	assert.Equal(t, model.PriorityUrgente, got.Priority)

	h := env.history(t, tk.ID)
	require.Len(t, h, 2)
	p, err := h[1].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, &model.EditPayload{
		Changed: []string{"location", "problem", "priority"},
		Before:  map[string]string{"location": "", "problem": "Printer jammed", "priority": "NORMAL"},
		After:   map[string]string{"location": "Caixa 3", "problem": "Printer jammed again", "priority": "URGENTE"},
	}, p)

	_, err = env.tickets.Edit(ctx, env.techA, tk.ID, EditTicketInput{Problem: &problem})
	requireKind(t, err, errs.ErrForbidden)
	blank := "  "
	_, err = env.tickets.Edit(ctx, env.admin, tk.ID, EditTicketInput{Problem: &blank})
	requireKind(t, err, errs.ErrValidation)
}

func TestEditWithoutChanges(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	_, err := env.tickets.Edit(ctx, env.admin, tk.ID, EditTicketInput{})
	requireKind(t, err, errs.ErrValidation)
	assert.Equal(t, "no changes", err.Error())

	same := "Printer jammed"
	typ := "Reparo"
	_, err = env.tickets.Edit(ctx, env.admin, tk.ID, EditTicketInput{Problem: &same, Type: &typ})
	requireKind(t, err, errs.ErrValidation)
	assert.Equal(t, "no changes", err.Error())

	assert.Equal(t, []model.EventType{model.EventCreate}, eventTypes(env.history(t, tk.ID)))
	assert.Equal(t, int64(1), env.reload(t, tk.ID).Version)
}

func TestNetworkGrantVisibility(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	inN := env.open(t, env.storeN.ID)
	inM := env.open(t, env.storeM.ID)
	require.NoError(t, env.accounts.GrantNetwork(ctx, env.admin, env.client.ID, env.netN.ID))

	detail, err := env.tickets.Get(ctx, env.client, inN.ID)
	require.NoError(t, err)
	assert.Equal(t, inN.ID, detail.ID)
	assert.Nil(t, detail.Closure)

	_, err = env.tickets.Get(ctx, env.client, inM.ID)
	requireKind(t, err, errs.ErrForbidden)
	_, err = env.tickets.History(ctx, env.client, inM.ID)
	requireKind(t, err, errs.ErrForbidden)
	_, err = env.tickets.Get(ctx, env.client, "missing")
	requireKind(t, err, errs.ErrNotFound)
}

func TestComment(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	_, err := env.tickets.Comment(ctx, env.client, tk.ID, "Alguma novidade?")
	requireKind(t, err, errs.ErrForbidden)

	require.NoError(t, env.accounts.GrantStore(ctx, env.admin, env.client.ID, env.storeN.ID))
	u, err := env.tickets.Comment(ctx, env.client, tk.ID, "  Alguma novidade?  ")
	require.NoError(t, err)
	assert.Equal(t, model.EventComment, u.EventType)
	assert.Equal(t, "Alguma novidade?", *u.Note)
	assert.Equal(t, int64(2), u.Seq)

	_, err = env.tickets.Comment(ctx, env.techB, tk.ID, " ")
	requireKind(t, err, errs.ErrValidation)

	h, err := env.tickets.History(ctx, env.client, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventCreate, model.EventComment}, eventTypes(h))
	// comments do not touch the ticket row
	assert.Equal(t, int64(1), env.reload(t, tk.ID).Version)
}

func TestList(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	queued := env.open(t, env.storeN.ID)
	mine := env.open(t, env.storeM.ID)
	theirs := env.open(t, env.storeM.ID)
	_, err := env.tickets.Assign(ctx, env.techA, mine.ID, "")
	require.NoError(t, err)
	_, err = env.tickets.Assign(ctx, env.techB, theirs.ID, "")
	require.NoError(t, err)

	ids := func(p *TicketPage) []string {
		out := make([]string, 0, len(p.Items))
		for _, tk := range p.Items {
			out = append(out, tk.ID)
		}
		return out
	}

	page, err := env.tickets.List(ctx, env.admin, ListTicketsFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, DefaultListLimit, page.Limit)

	page, err = env.tickets.List(ctx, env.admin, ListTicketsFilter{Status: "atribuido", NetworkID: env.netM.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{mine.ID, theirs.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.admin, ListTicketsFilter{StoreID: env.storeN.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{queued.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.techA, ListTicketsFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{queued.ID, mine.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.techA, ListTicketsFilter{Scope: access.ScopeQueue})
	require.NoError(t, err)
	assert.Equal(t, []string{queued.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.techA, ListTicketsFilter{Scope: access.ScopeMine})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.client, ListTicketsFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	require.NoError(t, env.accounts.GrantNetwork(ctx, env.admin, env.client.ID, env.netM.ID))
	page, err = env.tickets.List(ctx, env.client, ListTicketsFilter{Scope: access.ScopeQueue})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{mine.ID, theirs.ID}, ids(page))

	page, err = env.tickets.List(ctx, env.admin, ListTicketsFilter{Limit: 1000, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, page.Limit)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)

	_, err = env.tickets.List(ctx, env.admin, ListTicketsFilter{Status: "FECHADO"})
	requireKind(t, err, errs.ErrValidation)
}

func TestPersistRejectsStaleVersion(t *testing.T) {
	env := newEnv(t)
	tk := env.open(t, env.storeN.ID)

	stale := env.reload(t, tk.ID)
	require.NoError(t, env.db.Model(&model.Ticket{}).Where("id = ?", tk.ID).
		Update("version", gorm.Expr("version + 1")).Error)

	stale.Priority = model.PriorityUrgente
	err := env.tickets.persist(env.db, stale)
	requireKind(t, err, errs.ErrConflict)
	assert.Equal(t, tk.Version, stale.Version)

	current := env.reload(t, tk.ID)
	assert.Equal(t, tk.Version+1, current.Version)
	assert.Equal(t, model.PriorityNormal, current.Priority)

	current.Priority = model.PriorityUrgente
	require.NoError(t, env.tickets.persist(env.db, current))
	assert.Equal(t, tk.Version+2, current.Version)
	assert.Equal(t, model.PriorityUrgente, env.reload(t, tk.ID).Priority)
}

func TestSelfClaimByDeactivatedTech(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	tk := env.open(t, env.storeN.ID)

	// the caller still holds a resolved user from before the deactivation
	require.NoError(t, env.db.Model(&model.User{}).Where("id = ?", env.techA.ID).Update("active", false).Error)
	_, err := env.tickets.Assign(ctx, env.techA, tk.ID, "")
	requireKind(t, err, errs.ErrNotFound)
	assert.Equal(t, model.StatusAberto, env.reload(t, tk.ID).Status)
}

func TestHistoryKeepsUnreadableEntries(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	env.tickets.log = zap.New(core)
	tk := env.open(t, env.storeN.ID)

	require.NoError(t, env.db.Create(&model.TicketUpdate{
		ID: "u-legacy", TicketID: tk.ID, Seq: 2, CreatedByID: env.admin.ID, EventType: "REOPEN",
	}).Error)

	items, err := env.tickets.History(ctx, env.admin, tk.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.EventType("REOPEN"), items[1].EventType)
	require.Equal(t, 1, logs.FilterMessage("unreadable history entry").Len())
	assert.Equal(t, int64(2), logs.All()[0].ContextMap()["seq"])
}
