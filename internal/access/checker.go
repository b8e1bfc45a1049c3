package access

import (
	"context"
	"fmt"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"gorm.io/gorm"
)

// TechScope narrows a technician's ticket list.
type TechScope string

const (
	ScopeDefault TechScope = ""
	ScopeQueue   TechScope = "queue"
	ScopeMine    TechScope = "mine"
)

func ParseTechScope(s string) (TechScope, error) {
	switch TechScope(s) {
	case ScopeDefault, ScopeQueue, ScopeMine:
		return TechScope(s), nil
	}
	return "", errs.Validation("invalid scope %q (want queue or mine)", s)
}

const (
	grantedStoresSQL   = "SELECT store_id FROM client_access WHERE user_id = ?"
	grantedNetworksSQL = "SELECT network_id FROM client_network_access WHERE user_id = ?"
	networkStoresSQL   = "SELECT stores.id FROM stores JOIN client_network_access ON client_network_access.network_id = stores.network_id WHERE client_network_access.user_id = ?"
	storeNetworksSQL   = "SELECT stores.network_id FROM stores JOIN client_access ON client_access.store_id = stores.id WHERE client_access.user_id = ? AND stores.network_id IS NOT NULL"
)

// Checker resolves grant-based visibility. db may be a transaction.
type Checker struct{}

// CanViewStore: ADMIN and TECH see everything; a CLIENT needs a direct store
// grant or a grant on the store's network.
func (Checker) CanViewStore(ctx context.Context, db *gorm.DB, actor *model.User, store *model.Store) (bool, error) {
	if actor.Role == model.RoleAdmin || actor.Role == model.RoleTech {
		return true, nil
	}
	if actor.Role != model.RoleClient {
		return false, nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&model.ClientAccess{}).
		Where("user_id = ? AND store_id = ?", actor.ID, store.ID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check store grant: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if store.NetworkID == nil {
		return false, nil
	}
	if err := db.WithContext(ctx).Model(&model.ClientNetworkAccess{}).
		Where("user_id = ? AND network_id = ?", actor.ID, *store.NetworkID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check network grant: %w", err)
	}
	return n > 0, nil
}

// CanViewTicket loads the ticket's store and applies CanViewStore.
func (c Checker) CanViewTicket(ctx context.Context, db *gorm.DB, actor *model.User, t *model.Ticket) (bool, error) {
	if actor.Role != model.RoleClient {
		return actor.Role == model.RoleAdmin || actor.Role == model.RoleTech, nil
	}
	var store model.Store
	if err := db.WithContext(ctx).First(&store, "id = ?", t.StoreID).Error; err != nil {
		return false, fmt.Errorf("load ticket store: %w", err)
	}
	return c.CanViewStore(ctx, db, actor, &store)
}

// ScopeTickets restricts a tickets query to what actor may list.
func ScopeTickets(actor *model.User, scope TechScope) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch actor.Role {
		case model.RoleAdmin:
			return db
		case model.RoleTech:
			switch scope {
			case ScopeQueue:
				return db.Where("tickets.status = ? AND tickets.assigned_tech_id IS NULL", model.StatusAberto)
			case ScopeMine:
				return db.Where("tickets.assigned_tech_id = ?", actor.ID)
			default:
				return db.Where("((tickets.status = ? AND tickets.assigned_tech_id IS NULL) OR tickets.assigned_tech_id = ?)",
					model.StatusAberto, actor.ID)
			}
		case model.RoleClient:
			return db.Where("(tickets.store_id IN ("+grantedStoresSQL+") OR tickets.store_id IN ("+networkStoresSQL+"))",
				actor.ID, actor.ID)
		}
		return db.Where("1 = 0")
	}
}

// ScopeStores restricts a stores query to what actor may list.
func ScopeStores(actor *model.User) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch actor.Role {
		case model.RoleAdmin, model.RoleTech:
			return db
		case model.RoleClient:
			return db.Where("(stores.id IN ("+grantedStoresSQL+") OR stores.network_id IN ("+grantedNetworksSQL+"))",
				actor.ID, actor.ID)
		}
		return db.Where("1 = 0")
	}
}

// ScopeNetworks: clients see networks granted directly or holding a granted store.
func ScopeNetworks(actor *model.User) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch actor.Role {
		case model.RoleAdmin, model.RoleTech:
			return db
		case model.RoleClient:
			return db.Where("(networks.id IN ("+grantedNetworksSQL+") OR networks.id IN ("+storeNetworksSQL+"))",
				actor.ID, actor.ID)
		}
		return db.Where("1 = 0")
	}
}
