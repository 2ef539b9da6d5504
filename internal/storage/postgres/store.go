package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.PlatformStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.EndpointStore = (*Store)(nil)
var _ storage.ProxyResourceStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Stores returns the store wired into every slot of storage.Stores.
func (s *Store) Stores() storage.Stores {
	return storage.Stores{
		Platforms:      s,
		Roles:          s,
		Endpoints:      s,
		ProxyResources: s,
		Wallet:         s,
	}
}

// mapError translates driver errors into storage sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// parseID converts a string id to the BIGSERIAL key. Ids that are not numbers
// cannot exist in the table.
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- PlatformStore ----------------------------------------------------------

type platformRow struct {
	ID          int64          `db:"id"`
	Status      string         `db:"status"`
	LastUpdated time.Time      `db:"last_updated"`
	VersionsURL string         `db:"versions_url"`
	TokenA      string         `db:"token_a"`
	TokenB      string         `db:"token_b"`
	TokenC      sql.NullString `db:"token_c"`
}

func (r platformRow) toDomain() platform.Platform {
	return platform.Platform{
		ID:          formatID(r.ID),
		Status:      ocpi.ConnectionStatus(r.Status),
		LastUpdated: r.LastUpdated,
		VersionsURL: r.VersionsURL,
		Auth: platform.Auth{
			TokenA: r.TokenA,
			TokenB: r.TokenB,
			TokenC: r.TokenC.String,
		},
	}
}

const platformColumns = `id, status, last_updated, versions_url, token_a, token_b, token_c`

func (s *Store) CreatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error) {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO platforms (status, last_updated, versions_url, token_a, token_b, token_c)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, string(p.Status), p.LastUpdated, p.VersionsURL, p.Auth.TokenA, p.Auth.TokenB, nullable(p.Auth.TokenC)).Scan(&id)
	if err != nil {
		return platform.Platform{}, mapError(err, "create platform")
	}
	p.ID = formatID(id)
	return p, nil
}

func (s *Store) UpdatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error) {
	id, ok := parseID(p.ID)
	if !ok {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", p.ID, storage.ErrNotFound)
	}
	p.LastUpdated = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE platforms
		SET status = $2, last_updated = $3, versions_url = $4, token_a = $5, token_b = $6, token_c = $7
		WHERE id = $1
	`, id, string(p.Status), p.LastUpdated, p.VersionsURL, p.Auth.TokenA, p.Auth.TokenB, nullable(p.Auth.TokenC))
	if err != nil {
		return platform.Platform{}, mapError(err, "update platform")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", p.ID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPlatform(ctx context.Context, id string) (platform.Platform, error) {
	n, ok := parseID(id)
	if !ok {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", id, storage.ErrNotFound)
	}
	var row platformRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+platformColumns+` FROM platforms WHERE id = $1`, n); err != nil {
		return platform.Platform{}, mapError(err, "get platform")
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlatformByTokenC(ctx context.Context, tokenC string) (platform.Platform, error) {
	if tokenC == "" {
		return platform.Platform{}, fmt.Errorf("platform by token: %w", storage.ErrNotFound)
	}
	var row platformRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+platformColumns+` FROM platforms WHERE token_c = $1`, tokenC); err != nil {
		return platform.Platform{}, mapError(err, "get platform by token")
	}
	return row.toDomain(), nil
}

func (s *Store) ListPlatforms(ctx context.Context) ([]platform.Platform, error) {
	var rows []platformRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+platformColumns+` FROM platforms ORDER BY id`); err != nil {
		return nil, mapError(err, "list platforms")
	}
	out := make([]platform.Platform, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// DeletePlatform relies on ON DELETE CASCADE for roles and endpoints.
func (s *Store) DeletePlatform(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return fmt.Errorf("platform %s: %w", id, storage.ErrNotFound)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM platforms WHERE id = $1`, n)
	if err != nil {
		return mapError(err, "delete platform")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("platform %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- RoleStore --------------------------------------------------------------

type roleRow struct {
	ID              int64  `db:"id"`
	PlatformID      int64  `db:"platform_id"`
	Role            string `db:"role"`
	BusinessName    string `db:"business_name"`
	BusinessWebsite string `db:"business_website"`
	PartyID         string `db:"party_id"`
	CountryCode     string `db:"country_code"`
}

func (r roleRow) toDomain() platform.Role {
	return platform.Role{
		ID:         formatID(r.ID),
		PlatformID: formatID(r.PlatformID),
		Role:       ocpi.Role(r.Role),
		BusinessDetails: ocpi.BusinessDetails{
			Name:    r.BusinessName,
			Website: r.BusinessWebsite,
		},
		PartyID:     r.PartyID,
		CountryCode: r.CountryCode,
	}
}

const roleColumns = `id, platform_id, role, business_name, business_website, party_id, country_code`

// CreateRole stores the party identifier upper-cased so the unique index
// enforces case-insensitive uniqueness.
func (s *Store) CreateRole(ctx context.Context, r platform.Role) (platform.Role, error) {
	platformID, ok := parseID(r.PlatformID)
	if !ok {
		return platform.Role{}, fmt.Errorf("platform %s: %w", r.PlatformID, storage.ErrNotFound)
	}
	n := r.BasicRole().Normalize()
	r.PartyID, r.CountryCode = n.PartyID, n.CountryCode

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO roles (platform_id, role, business_name, business_website, party_id, country_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, platformID, string(r.Role), r.BusinessDetails.Name, r.BusinessDetails.Website, r.PartyID, r.CountryCode).Scan(&id)
	if err != nil {
		return platform.Role{}, mapError(err, "create role")
	}
	r.ID = formatID(id)
	return r, nil
}

func (s *Store) GetRole(ctx context.Context, role ocpi.BasicRole) (platform.Role, error) {
	n := role.Normalize()
	var row roleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+roleColumns+` FROM roles WHERE country_code = $1 AND party_id = $2
	`, n.CountryCode, n.PartyID)
	if err != nil {
		return platform.Role{}, mapError(err, "get role "+n.String())
	}
	return row.toDomain(), nil
}

func (s *Store) ListRoles(ctx context.Context) ([]platform.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roleColumns+` FROM roles ORDER BY id`); err != nil {
		return nil, mapError(err, "list roles")
	}
	return toRoles(rows), nil
}

func (s *Store) ListRolesByPlatform(ctx context.Context, platformID string) ([]platform.Role, error) {
	n, ok := parseID(platformID)
	if !ok {
		return nil, nil
	}
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roleColumns+` FROM roles WHERE platform_id = $1 ORDER BY id`, n); err != nil {
		return nil, mapError(err, "list roles")
	}
	return toRoles(rows), nil
}

func toRoles(rows []roleRow) []platform.Role {
	out := make([]platform.Role, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func (s *Store) ExistsRoleForPlatform(ctx context.Context, role ocpi.BasicRole, platformID string) (bool, error) {
	id, ok := parseID(platformID)
	if !ok {
		return false, nil
	}
	n := role.Normalize()
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM roles WHERE country_code = $1 AND party_id = $2 AND platform_id = $3)
	`, n.CountryCode, n.PartyID, id)
	if err != nil {
		return false, mapError(err, "check role")
	}
	return exists, nil
}

// --- EndpointStore ----------------------------------------------------------

type endpointRow struct {
	ID         int64  `db:"id"`
	PlatformID int64  `db:"platform_id"`
	Identifier string `db:"identifier"`
	Role       string `db:"role"`
	URL        string `db:"url"`
}

func (r endpointRow) toDomain() platform.Endpoint {
	return platform.Endpoint{
		ID:         formatID(r.ID),
		PlatformID: formatID(r.PlatformID),
		Identifier: ocpi.ModuleID(r.Identifier),
		Role:       ocpi.InterfaceRole(r.Role),
		URL:        r.URL,
	}
}

func (s *Store) CreateEndpoint(ctx context.Context, e platform.Endpoint) (platform.Endpoint, error) {
	platformID, ok := parseID(e.PlatformID)
	if !ok {
		return platform.Endpoint{}, fmt.Errorf("platform %s: %w", e.PlatformID, storage.ErrNotFound)
	}
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO endpoints (platform_id, identifier, role, url)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, platformID, string(e.Identifier), string(e.Role), e.URL).Scan(&id)
	if err != nil {
		return platform.Endpoint{}, mapError(err, "create endpoint")
	}
	e.ID = formatID(id)
	return e, nil
}

func (s *Store) SaveEndpoint(ctx context.Context, e platform.Endpoint) (platform.Endpoint, error) {
	platformID, ok := parseID(e.PlatformID)
	if !ok {
		return platform.Endpoint{}, fmt.Errorf("platform %s: %w", e.PlatformID, storage.ErrNotFound)
	}
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO endpoints (platform_id, identifier, role, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform_id, identifier, role) DO UPDATE SET url = EXCLUDED.url
		RETURNING id
	`, platformID, string(e.Identifier), string(e.Role), e.URL).Scan(&id)
	if err != nil {
		return platform.Endpoint{}, mapError(err, "save endpoint")
	}
	e.ID = formatID(id)
	return e, nil
}

func (s *Store) GetEndpoint(ctx context.Context, platformID string, module ocpi.ModuleID, iface ocpi.InterfaceRole) (platform.Endpoint, error) {
	id, ok := parseID(platformID)
	if !ok {
		return platform.Endpoint{}, fmt.Errorf("endpoint: %w", storage.ErrNotFound)
	}
	var row endpointRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, platform_id, identifier, role, url
		FROM endpoints
		WHERE platform_id = $1 AND identifier = $2 AND role = $3
	`, id, string(module), string(iface))
	if err != nil {
		return platform.Endpoint{}, mapError(err, "get endpoint")
	}
	return row.toDomain(), nil
}

func (s *Store) ListEndpointsByPlatform(ctx context.Context, platformID string) ([]platform.Endpoint, error) {
	id, ok := parseID(platformID)
	if !ok {
		return nil, nil
	}
	var rows []endpointRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, platform_id, identifier, role, url FROM endpoints WHERE platform_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, mapError(err, "list endpoints")
	}
	out := make([]platform.Endpoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- ProxyResourceStore -----------------------------------------------------

type proxyRow struct {
	ID              int64     `db:"id"`
	SenderCountry   string    `db:"sender_country"`
	SenderParty     string    `db:"sender_party"`
	ReceiverCountry string    `db:"receiver_country"`
	ReceiverParty   string    `db:"receiver_party"`
	Module          string    `db:"module"`
	Resource        string    `db:"resource"`
	AlternativeUID  string    `db:"alternative_uid"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r proxyRow) toDomain() proxy.Resource {
	return proxy.Resource{
		ID:             formatID(r.ID),
		Sender:         ocpi.BasicRole{PartyID: r.SenderParty, CountryCode: r.SenderCountry},
		Receiver:       ocpi.BasicRole{PartyID: r.ReceiverParty, CountryCode: r.ReceiverCountry},
		Module:         ocpi.ModuleID(r.Module),
		Resource:       r.Resource,
		AlternativeUID: r.AlternativeUID,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *Store) CreateProxyResource(ctx context.Context, r proxy.Resource) (proxy.Resource, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Sender, r.Receiver = r.Sender.Normalize(), r.Receiver.Normalize()

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO proxy_resources
			(sender_country, sender_party, receiver_country, receiver_party, module, resource, alternative_uid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, r.Sender.CountryCode, r.Sender.PartyID, r.Receiver.CountryCode, r.Receiver.PartyID,
		string(r.Module), r.Resource, r.AlternativeUID, r.CreatedAt).Scan(&id)
	if err != nil {
		return proxy.Resource{}, mapError(err, "create proxy resource")
	}
	r.ID = formatID(id)
	return r, nil
}

func (s *Store) GetProxyResource(ctx context.Context, id string, sender, receiver ocpi.BasicRole) (proxy.Resource, error) {
	n, ok := parseID(id)
	if !ok {
		return proxy.Resource{}, fmt.Errorf("proxy resource %s: %w", id, storage.ErrNotFound)
	}
	sender, receiver = sender.Normalize(), receiver.Normalize()

	var row proxyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, sender_country, sender_party, receiver_country, receiver_party, module, resource, alternative_uid, created_at
		FROM proxy_resources
		WHERE id = $1
		  AND sender_country = $2 AND sender_party = $3
		  AND receiver_country = $4 AND receiver_party = $5
	`, n, sender.CountryCode, sender.PartyID, receiver.CountryCode, receiver.PartyID)
	if err != nil {
		return proxy.Resource{}, mapError(err, "get proxy resource "+id)
	}
	return row.toDomain(), nil
}

func (s *Store) DeleteProxyResource(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proxy_resources WHERE id = $1`, n); err != nil {
		return mapError(err, "delete proxy resource")
	}
	return nil
}

func (s *Store) DeleteProxyResourcesByRoles(ctx context.Context, sender, receiver ocpi.BasicRole, module ocpi.ModuleID) (int64, error) {
	sender, receiver = sender.Normalize(), receiver.Normalize()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM proxy_resources
		WHERE sender_country = $1 AND sender_party = $2
		  AND receiver_country = $3 AND receiver_party = $4
		  AND module = $5
	`, sender.CountryCode, sender.PartyID, receiver.CountryCode, receiver.PartyID, string(module))
	if err != nil {
		return 0, mapError(err, "delete proxy resources")
	}
	return result.RowsAffected()
}

func (s *Store) DeleteProxyResourcesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proxy_resources WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapError(err, "expire proxy resources")
	}
	return result.RowsAffected()
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) GetWalletKey(ctx context.Context) (string, error) {
	var key string
	if err := s.db.GetContext(ctx, &key, `SELECT private_key FROM wallet WHERE id = 1`); err != nil {
		return "", mapError(err, "get wallet")
	}
	return key, nil
}

func (s *Store) SaveWalletKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet (id, private_key) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET private_key = EXCLUDED.private_key
	`, key)
	return mapError(err, "save wallet")
}
