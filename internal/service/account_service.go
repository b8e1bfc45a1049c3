package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/access"
	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountDefaults are the passwords given to accounts created without one.
type AccountDefaults struct {
	ClientPassword string
	AdminPassword  string
}

// AccountService manages users, stores, networks and client grants.
type AccountService struct {
	db       *gorm.DB
	hasher   auth.PasswordHasher
	defaults AccountDefaults
	log      *zap.Logger
	newID    func() string
}

func NewAccountService(db *gorm.DB, hasher auth.PasswordHasher, defaults AccountDefaults, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{db: db, hasher: hasher, defaults: defaults, log: log, newID: uuid.NewString}
}

func manage(actor *model.User) error {
	return access.Authorize(actor, access.ActionManage, nil, false)
}

// uniqueOr maps a unique-key violation that slipped past the explicit check to Conflict.
func uniqueOr(err error, conflict string, what string) error {
	if database.IsUniqueViolation(err) {
		return errs.Conflict("%s", conflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ---- users ----

type CreateUserInput struct {
	Username           string
	Role               string
	Password           *string
	MustChangePassword *bool
}

type UpdateUserInput struct {
	Active             *bool
	MustChangePassword *bool
	Password           *string
}

func (s *AccountService) CreateUser(ctx context.Context, actor *model.User, in CreateUserInput) (*model.User, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	role := model.Role(strings.ToUpper(strings.TrimSpace(in.Role)))
	if !role.Valid() {
		return nil, errs.Validation("invalid role %q", in.Role)
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, errs.Validation("username is required")
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if n > 0 {
		return nil, errs.Conflict("username already exists")
	}

	password := ""
	if in.Password != nil {
		password = *in.Password
	}
	if password != "" {
		if err := validatePassword("password", password); err != nil {
			return nil, err
		}
	} else {
		switch role {
		case model.RoleClient:
			password = s.defaults.ClientPassword
		case model.RoleAdmin:
			password = s.defaults.AdminPassword
		case model.RoleTech:
			return nil, errs.Validation("technicians require a password")
		}
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:                 s.newID(),
		Username:           username,
		PasswordHash:       hash,
		Role:               role,
		MustChangePassword: true,
		Active:             true,
	}
	if in.MustChangePassword != nil {
		u.MustChangePassword = *in.MustChangePassword
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, uniqueOr(err, "username already exists", "create user")
	}
	s.log.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// ListUsers returns users ordered by role then username, optionally filtered by role.
func (s *AccountService) ListUsers(ctx context.Context, actor *model.User, role string) ([]model.User, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Order("role").Order("username")
	if role != "" {
		r := model.Role(strings.ToUpper(role))
		if !r.Valid() {
			return nil, errs.Validation("invalid role %q", role)
		}
		q = q.Where("role = ?", r)
	}
	users := []model.User{}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser toggles flags and resets passwords. Role is immutable.
func (s *AccountService) UpdateUser(ctx context.Context, actor *model.User, id string, in UpdateUserInput) (*model.User, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	var u model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		cols := map[string]any{}
		if in.Active != nil && *in.Active != u.Active {
			if !*in.Active {
				if u.ID == actor.ID {
					return errs.Conflict("you cannot deactivate your own account")
				}
				if u.Role == model.RoleTech {
					var open int64
					if err := tx.Model(&model.Ticket{}).
						Where("assigned_tech_id = ? AND status NOT IN ?", u.ID,
							[]model.TicketStatus{model.StatusConcluido, model.StatusCancelado}).
						Count(&open).Error; err != nil {
						return fmt.Errorf("count open tickets: %w", err)
					}
					if open > 0 {
						return errs.Conflict("technician still holds %d open tickets", open)
					}
				}
			}
			cols["active"] = *in.Active
			u.Active = *in.Active
		}
		if in.Password != nil {
			if err := validatePassword("password", *in.Password); err != nil {
				return err
			}
			hash, err := s.hasher.Hash(*in.Password)
			if err != nil {
				return err
			}
			cols["password_hash"] = hash
			u.PasswordHash = hash
			cols["must_change_password"] = true
			u.MustChangePassword = true
		}
		if in.MustChangePassword != nil {
			cols["must_change_password"] = *in.MustChangePassword
			u.MustChangePassword = *in.MustChangePassword
		}
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&model.User{}).Where("id = ?", u.ID).Updates(cols).Error; err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ---- stores ----

type CreateStoreInput struct {
	Name      string
	CNPJ      string
	NetworkID *string
}

// UpdateStoreInput: NetworkID pointing at "" detaches the store.
type UpdateStoreInput struct {
	Name      *string
	Active    *bool
	NetworkID *string
}

func (s *AccountService) networkExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&model.Network{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("check network: %w", err)
	}
	if n == 0 {
		return errs.ErrNetworkNotFound
	}
	return nil
}

func (s *AccountService) CreateStore(ctx context.Context, actor *model.User, in CreateStoreInput) (*model.Store, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	cnpj := strings.TrimSpace(in.CNPJ)
	if name == "" || cnpj == "" {
		return nil, errs.Validation("name and cnpj are required")
	}
	store := &model.Store{ID: s.newID(), Name: name, CNPJ: cnpj, Active: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if nid := trimOptional(in.NetworkID); nid != nil {
			if err := s.networkExists(tx, *nid); err != nil {
				return err
			}
			store.NetworkID = nid
		}
		var n int64
		if err := tx.Model(&model.Store{}).Where("cnpj = ?", cnpj).Count(&n).Error; err != nil {
			return fmt.Errorf("check cnpj: %w", err)
		}
		if n > 0 {
			return errs.Conflict("cnpj already registered")
		}
		if err := tx.Create(store).Error; err != nil {
			return uniqueOr(err, "cnpj already registered", "create store")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("store created", zap.String("store_id", store.ID))
	return store, nil
}

// ListStores returns the stores actor may see, active first, then by name.
func (s *AccountService) ListStores(ctx context.Context, actor *model.User) ([]model.Store, error) {
	if err := access.Authorize(actor, access.ActionBrowse, nil, false); err != nil {
		return nil, err
	}
	stores := []model.Store{}
	if err := s.db.WithContext(ctx).Model(&model.Store{}).Scopes(access.ScopeStores(actor)).
		Order("stores.active DESC").Order("stores.name").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return stores, nil
}

// UpdateStore holds the store row FOR UPDATE, so a concurrent ticket Create
// either commits first or sees the deactivation.
func (s *AccountService) UpdateStore(ctx context.Context, actor *model.User, id string, in UpdateStoreInput) (*model.Store, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	var store model.Store
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&store, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrStoreNotFound
		}
		if err != nil {
			return fmt.Errorf("load store: %w", err)
		}
		cols := map[string]any{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return errs.Validation("name must not be empty")
			}
			cols["name"] = name
			store.Name = name
		}
		if in.Active != nil {
			cols["active"] = *in.Active
			store.Active = *in.Active
		}
		if in.NetworkID != nil {
			nid := trimOptional(in.NetworkID)
			if nid != nil {
				if err := s.networkExists(tx, *nid); err != nil {
					return err
				}
			}
			cols["network_id"] = nid
			store.NetworkID = nid
		}
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&model.Store{}).Where("id = ?", store.ID).Updates(cols).Error; err != nil {
			return fmt.Errorf("update store: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// ---- networks ----

type UpdateNetworkInput struct {
	Name   *string
	Active *bool
}

// nameTaken checks case-insensitive uniqueness, ignoring exceptID.
func nameTaken(tx *gorm.DB, name, exceptID string) (bool, error) {
	var n int64
	q := tx.Model(&model.Network{}).Where("lower(name) = lower(?)", name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check network name: %w", err)
	}
	return n > 0, nil
}

func (s *AccountService) CreateNetwork(ctx context.Context, actor *model.User, name string) (*model.Network, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("network name is required")
	}
	nw := &model.Network{ID: s.newID(), Name: name, Active: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := nameTaken(tx, name, "")
		if err != nil {
			return err
		}
		if taken {
			return errs.Conflict("a network with this name already exists")
		}
		if err := tx.Create(nw).Error; err != nil {
			return uniqueOr(err, "a network with this name already exists", "create network")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("network created", zap.String("network_id", nw.ID))
	return nw, nil
}

// ListNetworks returns the networks actor may see, active first, then by name.
func (s *AccountService) ListNetworks(ctx context.Context, actor *model.User) ([]model.Network, error) {
	if err := access.Authorize(actor, access.ActionBrowse, nil, false); err != nil {
		return nil, err
	}
	networks := []model.Network{}
	if err := s.db.WithContext(ctx).Model(&model.Network{}).Scopes(access.ScopeNetworks(actor)).
		Order("networks.active DESC").Order("networks.name").Find(&networks).Error; err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return networks, nil
}

func (s *AccountService) UpdateNetwork(ctx context.Context, actor *model.User, id string, in UpdateNetworkInput) (*model.Network, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	var nw model.Network
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&nw, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrNetworkNotFound
		}
		if err != nil {
			return fmt.Errorf("load network: %w", err)
		}
		cols := map[string]any{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return errs.Validation("network name must not be empty")
			}
			taken, err := nameTaken(tx, name, nw.ID)
			if err != nil {
				return err
			}
			if taken {
				return errs.Conflict("a network with this name already exists")
			}
			cols["name"] = name
			nw.Name = name
		}
		if in.Active != nil {
			cols["active"] = *in.Active
			nw.Active = *in.Active
		}
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&model.Network{}).Where("id = ?", nw.ID).Updates(cols).Error; err != nil {
			return uniqueOr(err, "a network with this name already exists", "update network")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &nw, nil
}

// ---- grants ----

type ClientGrants struct {
	ClientID string          `json:"client_id"`
	Stores   []model.Store   `json:"stores"`
	Networks []model.Network `json:"networks"`
}

func loadClient(tx *gorm.DB, id string) error {
	var u model.User
	err := tx.First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && u.Role != model.RoleClient) {
		return errs.NotFound("client not found")
	}
	if err != nil {
		return fmt.Errorf("load client: %w", err)
	}
	return nil
}

// GrantStore is idempotent.
func (s *AccountService) GrantStore(ctx context.Context, actor *model.User, clientID, storeID string) error {
	if err := manage(actor); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadClient(tx, clientID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.Store{}).Where("id = ?", storeID).Count(&n).Error; err != nil {
			return fmt.Errorf("check store: %w", err)
		}
		if n == 0 {
			return errs.ErrStoreNotFound
		}
		if err := tx.Model(&model.ClientAccess{}).Where("user_id = ? AND store_id = ?", clientID, storeID).
			Count(&n).Error; err != nil {
			return fmt.Errorf("check grant: %w", err)
		}
		if n > 0 {
			return nil
		}
		g := &model.ClientAccess{UserID: clientID, StoreID: storeID, CreatedAt: time.Now().UTC()}
		if err := tx.Create(g).Error; err != nil && !database.IsUniqueViolation(err) {
			return fmt.Errorf("grant store: %w", err)
		}
		return nil
	})
}

func (s *AccountService) RevokeStore(ctx context.Context, actor *model.User, clientID, storeID string) error {
	if err := manage(actor); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadClient(tx, clientID); err != nil {
			return err
		}
		res := tx.Where("user_id = ? AND store_id = ?", clientID, storeID).Delete(&model.ClientAccess{})
		if res.Error != nil {
			return fmt.Errorf("revoke store: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("grant not found")
		}
		return nil
	})
}

// GrantNetwork is idempotent.
func (s *AccountService) GrantNetwork(ctx context.Context, actor *model.User, clientID, networkID string) error {
	if err := manage(actor); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadClient(tx, clientID); err != nil {
			return err
		}
		if err := s.networkExists(tx, networkID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.ClientNetworkAccess{}).Where("user_id = ? AND network_id = ?", clientID, networkID).
			Count(&n).Error; err != nil {
			return fmt.Errorf("check grant: %w", err)
		}
		if n > 0 {
			return nil
		}
		g := &model.ClientNetworkAccess{UserID: clientID, NetworkID: networkID, CreatedAt: time.Now().UTC()}
		if err := tx.Create(g).Error; err != nil && !database.IsUniqueViolation(err) {
			return fmt.Errorf("grant network: %w", err)
		}
		return nil
	})
}

func (s *AccountService) RevokeNetwork(ctx context.Context, actor *model.User, clientID, networkID string) error {
	if err := manage(actor); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadClient(tx, clientID); err != nil {
			return err
		}
		res := tx.Where("user_id = ? AND network_id = ?", clientID, networkID).Delete(&model.ClientNetworkAccess{})
		if res.Error != nil {
			return fmt.Errorf("revoke network: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("grant not found")
		}
		return nil
	})
}

// ListGrants returns the stores and networks granted directly to a client.
func (s *AccountService) ListGrants(ctx context.Context, actor *model.User, clientID string) (*ClientGrants, error) {
	if err := manage(actor); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := loadClient(db, clientID); err != nil {
		return nil, err
	}
	out := &ClientGrants{ClientID: clientID, Stores: []model.Store{}, Networks: []model.Network{}}
	if err := db.Where("id IN (SELECT store_id FROM client_access WHERE user_id = ?)", clientID).
		Order("name").Find(&out.Stores).Error; err != nil {
		return nil, fmt.Errorf("list store grants: %w", err)
	}
	if err := db.Where("id IN (SELECT network_id FROM client_network_access WHERE user_id = ?)", clientID).
		Order("name").Find(&out.Networks).Error; err != nil {
		return nil, fmt.Errorf("list network grants: %w", err)
	}
	return out, nil
}
