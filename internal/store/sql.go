package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"driveguard/internal/config"
	"driveguard/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	connectInitialInterval = 500 * time.Millisecond
	connectMaxInterval     = 5 * time.Second
	connectMaxElapsed      = 30 * time.Second

	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// SQL is the relational store, backed by Postgres (pgx) or SQLite (modernc).
type SQL struct {
	db      *sql.DB
	dialect string
}

// OpenSQL connects with exponential backoff until the database answers a ping.
func OpenSQL(ctx context.Context, dialect, dsn string, logger *zap.Logger) (*SQL, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var driverName string
	switch dialect {
	case config.StoragePostgres:
		driverName = "pgx"
	case config.StorageSQLite:
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == config.StorageSQLite {
		db.SetMaxOpenConns(1)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectInitialInterval
	bo.MaxInterval = connectMaxInterval
	bo.MaxElapsedTime = connectMaxElapsed

	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying", zap.String("dialect", dialect), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}

	if dialect == config.StorageSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}
	return &SQL{db: db, dialect: dialect}, nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQL) Close() error                   { return s.db.Close() }

// Dialect reports postgres or sqlite.
func (s *SQL) Dialect() string { return s.dialect }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != config.StoragePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQL) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Migrate applies embedded migrations that have not been recorded yet.
func (s *SQL) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	dir := path.Join("migrations", s.dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var n int
		if err := s.queryRow(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&n); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", version, err)
		}
		if n > 0 {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return applied, err
		}
		if err := s.applyMigration(ctx, version, string(body)); err != nil {
			return applied, err
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func (s *SQL) applyMigration(ctx context.Context, version, body string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range strings.Split(body, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), version, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		c := coder.Code()
		return c == sqliteConstraintUnique || c == sqliteConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Organizations & users

func (s *SQL) CreateOrganization(ctx context.Context, name string) (model.Organization, error) {
	o := model.Organization{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.exec(ctx, `INSERT INTO organizations (id, name, created_at) VALUES (?,?,?)`, o.ID, o.Name, o.CreatedAt)
	if isUniqueViolation(err) {
		return model.Organization{}, ErrConflict
	}
	if err != nil {
		return model.Organization{}, err
	}
	return o, nil
}

func (s *SQL) GetOrganization(ctx context.Context, id string) (model.Organization, error) {
	var o model.Organization
	err := s.queryRow(ctx, `SELECT id, name, created_at FROM organizations WHERE id = ?`, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	return o, notFound(err)
}

func (s *SQL) GetOrganizationByName(ctx context.Context, name string) (model.Organization, error) {
	var o model.Organization
	err := s.queryRow(ctx, `SELECT id, name, created_at FROM organizations WHERE LOWER(name) = LOWER(?)`, name).Scan(&o.ID, &o.Name, &o.CreatedAt)
	return o, notFound(err)
}

const userColumns = `id, email, name, password_hash, COALESCE(organization_id, ''), role, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.OrganizationID, &u.Role, &u.CreatedAt)
	return u, notFound(err)
}

func (s *SQL) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var org any
	if u.OrganizationID != "" {
		org = u.OrganizationID
	}
	_, err := s.exec(ctx, `INSERT INTO users (id, email, name, password_hash, organization_id, role, created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, org, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return model.User{}, ErrConflict
	}
	if err != nil {
		return model.User{}, err
	}
	u.Email = strings.ToLower(u.Email)
	return u, nil
}

func (s *SQL) Register(ctx context.Context, orgName string, u model.User) (model.Organization, model.User, error) {
	now := time.Now().UTC()
	o := model.Organization{ID: uuid.New().String(), Name: orgName, CreatedAt: now}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.Email = strings.ToLower(u.Email)
	u.OrganizationID = o.ID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Organization{}, model.User{}, err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO organizations (id, name, created_at) VALUES (?,?,?)`), o.ID, o.Name, o.CreatedAt)
	if isUniqueViolation(err) {
		return model.Organization{}, model.User{}, ErrOrganizationTaken
	}
	if err != nil {
		return model.Organization{}, model.User{}, err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO users (id, email, name, password_hash, organization_id, role, created_at) VALUES (?,?,?,?,?,?,?)`),
		u.ID, u.Email, u.Name, u.PasswordHash, u.OrganizationID, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return model.Organization{}, model.User{}, ErrEmailTaken
	}
	if err != nil {
		return model.Organization{}, model.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Organization{}, model.User{}, err
	}
	return o, u, nil
}

func (s *SQL) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQL) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
}

// Videos

const videoColumns = `id, organization_id, uploaded_by, driver_id, vehicle_id, filename, original_filename, storage_path, size_bytes, duration_seconds, status, created_at, updated_at`

func scanVideo(row interface{ Scan(...any) error }) (model.Video, error) {
	var v model.Video
	err := row.Scan(&v.ID, &v.OrganizationID, &v.UploadedBy, &v.DriverID, &v.VehicleID, &v.Filename, &v.OriginalFilename, &v.StoragePath,
		&v.SizeBytes, &v.DurationSeconds, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	return v, notFound(err)
}

func (s *SQL) CreateVideo(ctx context.Context, v model.Video) (model.Video, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.Status == "" {
		v.Status = model.VideoUploaded
	}
	_, err := s.exec(ctx, `INSERT INTO videos (`+videoColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.OrganizationID, v.UploadedBy, v.DriverID, v.VehicleID, v.Filename, v.OriginalFilename, v.StoragePath,
		v.SizeBytes, v.DurationSeconds, v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return model.Video{}, err
	}
	return v, nil
}

func (s *SQL) GetVideo(ctx context.Context, orgID, id string) (model.Video, error) {
	if orgID == "" {
		return scanVideo(s.queryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	}
	return scanVideo(s.queryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ? AND organization_id = ?`, id, orgID))
}

func (s *SQL) FindVideoByFilename(ctx context.Context, orgID, filename string) (model.Video, error) {
	if orgID == "" {
		return scanVideo(s.queryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE filename = ? ORDER BY created_at DESC LIMIT 1`, filename))
	}
	return scanVideo(s.queryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE organization_id = ? AND filename = ? ORDER BY created_at DESC LIMIT 1`, orgID, filename))
}

func (s *SQL) ListVideos(ctx context.Context, orgID, cursor string, limit int) ([]model.Video, string, error) {
	limit = clampLimit(limit)
	rows, err := s.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE organization_id = ? AND id > ? ORDER BY id LIMIT ?`, orgID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
	}
	return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func nextCursor(n, limit int, last func() string) string {
	if n == limit && n > 0 {
		return last()
	}
	return ""
}

func (s *SQL) UpdateVideoStatus(ctx context.Context, id, status string, durationSeconds float64) error {
	var (
		res sql.Result
		err error
	)
	now := time.Now().UTC()
	if durationSeconds > 0 {
		res, err = s.exec(ctx, `UPDATE videos SET status = ?, duration_seconds = ?, updated_at = ? WHERE id = ?`, status, durationSeconds, now, id)
	} else {
		res, err = s.exec(ctx, `UPDATE videos SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Analyses

const analysisColumns = `id, video_id, overall_score, safety_score, compliance_score, efficiency_score, category, average_speed_kmph, close_encounters, traffic_violations, bus_lane_violations, lane_changes, turn_count, raw_metrics, created_at, updated_at`

func scanAnalysis(row interface{ Scan(...any) error }) (model.VideoAnalysis, error) {
	var a model.VideoAnalysis
	var raw []byte
	err := row.Scan(&a.ID, &a.VideoID, &a.OverallScore, &a.SafetyScore, &a.ComplianceScore, &a.EfficiencyScore, &a.Category,
		&a.AverageSpeedKmph, &a.CloseEncounters, &a.TrafficViolations, &a.BusLaneViolations, &a.LaneChanges, &a.TurnCount,
		&raw, &a.CreatedAt, &a.UpdatedAt)
	if len(raw) > 0 {
		a.RawMetrics = json.RawMessage(raw)
	}
	return a, notFound(err)
}

// UpsertAnalysis keeps a single row per video; a second save replaces the first.
func (s *SQL) UpsertAnalysis(ctx context.Context, a model.VideoAnalysis) (model.VideoAnalysis, error) {
	now := time.Now().UTC()
	a.ID = uuid.New().String()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.exec(ctx, `INSERT INTO video_analyses (`+analysisColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (video_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			safety_score = excluded.safety_score,
			compliance_score = excluded.compliance_score,
			efficiency_score = excluded.efficiency_score,
			category = excluded.category,
			average_speed_kmph = excluded.average_speed_kmph,
			close_encounters = excluded.close_encounters,
			traffic_violations = excluded.traffic_violations,
			bus_lane_violations = excluded.bus_lane_violations,
			lane_changes = excluded.lane_changes,
			turn_count = excluded.turn_count,
			raw_metrics = excluded.raw_metrics,
			updated_at = excluded.updated_at`,
		a.ID, a.VideoID, a.OverallScore, a.SafetyScore, a.ComplianceScore, a.EfficiencyScore, a.Category,
		a.AverageSpeedKmph, a.CloseEncounters, a.TrafficViolations, a.BusLaneViolations, a.LaneChanges, a.TurnCount,
		nullJSON(a.RawMetrics), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return model.VideoAnalysis{}, err
	}
	return s.GetAnalysisByVideo(ctx, a.VideoID)
}

func (s *SQL) GetAnalysisByVideo(ctx context.Context, videoID string) (model.VideoAnalysis, error) {
	return scanAnalysis(s.queryRow(ctx, `SELECT `+analysisColumns+` FROM video_analyses WHERE video_id = ?`, videoID))
}

func (s *SQL) Dashboard(ctx context.Context, orgID string) (model.Dashboard, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM videos WHERE organization_id = ?`, orgID).Scan(&count); err != nil {
		return model.Dashboard{}, err
	}
	cols := make([]string, 0, 16)
	for _, c := range strings.Split(analysisColumns, ",") {
		cols = append(cols, "a."+strings.TrimSpace(c))
	}
	rows, err := s.query(ctx, `SELECT `+strings.Join(cols, ", ")+` FROM video_analyses a JOIN videos v ON v.id = a.video_id WHERE v.organization_id = ?`, orgID)
	if err != nil {
		return model.Dashboard{}, err
	}
	defer rows.Close()
	var analyses []model.VideoAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return model.Dashboard{}, err
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return model.Dashboard{}, err
	}
	return BuildDashboard(count, analyses), nil
}

// Drivers

const driverColumns = `id, organization_id, name, license_number, phone, created_at`

func scanDriver(row interface{ Scan(...any) error }) (model.Driver, error) {
	var d model.Driver
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.LicenseNumber, &d.Phone, &d.CreatedAt)
	return d, notFound(err)
}

func (s *SQL) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	d.ID = uuid.New().String()
	d.CreatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO drivers (`+driverColumns+`) VALUES (?,?,?,?,?,?)`, d.ID, d.OrganizationID, d.Name, d.LicenseNumber, d.Phone, d.CreatedAt)
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (s *SQL) GetDriver(ctx context.Context, orgID, id string) (model.Driver, error) {
	return scanDriver(s.queryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE organization_id = ? AND id = ?`, orgID, id))
}

func (s *SQL) ListDrivers(ctx context.Context, orgID, cursor string, limit int) ([]model.Driver, string, error) {
	limit = clampLimit(limit)
	rows, err := s.query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE organization_id = ? AND id > ? ORDER BY id LIMIT ?`, orgID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func (s *SQL) PatchDriver(ctx context.Context, orgID, id string, patch model.DriverPatch) (model.Driver, error) {
	d, err := s.GetDriver(ctx, orgID, id)
	if err != nil {
		return model.Driver{}, err
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.LicenseNumber != nil {
		d.LicenseNumber = *patch.LicenseNumber
	}
	if patch.Phone != nil {
		d.Phone = *patch.Phone
	}
	if _, err := s.exec(ctx, `UPDATE drivers SET name = ?, license_number = ?, phone = ? WHERE organization_id = ? AND id = ?`,
		d.Name, d.LicenseNumber, d.Phone, orgID, id); err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (s *SQL) DeleteDriver(ctx context.Context, orgID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM drivers WHERE organization_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Vehicles

const vehicleColumns = `id, organization_id, plate_number, make, model, year, created_at`

func scanVehicle(row interface{ Scan(...any) error }) (model.Vehicle, error) {
	var v model.Vehicle
	err := row.Scan(&v.ID, &v.OrganizationID, &v.PlateNumber, &v.Make, &v.Model, &v.Year, &v.CreatedAt)
	return v, notFound(err)
}

func (s *SQL) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	v.ID = uuid.New().String()
	v.CreatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO vehicles (`+vehicleColumns+`) VALUES (?,?,?,?,?,?,?)`, v.ID, v.OrganizationID, v.PlateNumber, v.Make, v.Model, v.Year, v.CreatedAt)
	if err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

func (s *SQL) GetVehicle(ctx context.Context, orgID, id string) (model.Vehicle, error) {
	return scanVehicle(s.queryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE organization_id = ? AND id = ?`, orgID, id))
}

func (s *SQL) ListVehicles(ctx context.Context, orgID, cursor string, limit int) ([]model.Vehicle, string, error) {
	limit = clampLimit(limit)
	rows, err := s.query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE organization_id = ? AND id > ? ORDER BY id LIMIT ?`, orgID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
	}
	return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func (s *SQL) PatchVehicle(ctx context.Context, orgID, id string, patch model.VehiclePatch) (model.Vehicle, error) {
	v, err := s.GetVehicle(ctx, orgID, id)
	if err != nil {
		return model.Vehicle{}, err
	}
	if patch.PlateNumber != nil {
		v.PlateNumber = *patch.PlateNumber
	}
	if patch.Make != nil {
		v.Make = *patch.Make
	}
	if patch.Model != nil {
		v.Model = *patch.Model
	}
	if patch.Year != nil {
		v.Year = *patch.Year
	}
	if _, err := s.exec(ctx, `UPDATE vehicles SET plate_number = ?, make = ?, model = ?, year = ? WHERE organization_id = ? AND id = ?`,
		v.PlateNumber, v.Make, v.Model, v.Year, orgID, id); err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

func (s *SQL) DeleteVehicle(ctx context.Context, orgID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM vehicles WHERE organization_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Subscriptions

func scanSubscription(row interface{ Scan(...any) error }) (model.Subscription, error) {
	var sub model.Subscription
	var events []byte
	if err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.URL, &events, &sub.Secret, &sub.CreatedAt); err != nil {
		return sub, notFound(err)
	}
	_ = json.Unmarshal(events, &sub.Events)
	return sub, nil
}

func (s *SQL) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		URL:            req.URL,
		Events:         req.Events,
		Secret:         req.Secret,
		CreatedAt:      time.Now().UTC(),
	}
	ev, _ := json.Marshal(req.Events)
	_, err := s.exec(ctx, `INSERT INTO subscriptions (id, organization_id, url, events, secret, created_at) VALUES (?,?,?,?,?,?)`,
		sub.ID, sub.OrganizationID, sub.URL, string(ev), sub.Secret, sub.CreatedAt)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// GetSubscriptionsForEvent filters in Go so the same query serves both dialects.
func (s *SQL) GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	rows, err := s.query(ctx, `SELECT id, organization_id, url, events, secret, created_at FROM subscriptions WHERE organization_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		for _, e := range sub.Events {
			if e == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, rows.Err()
}

func (s *SQL) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	rows, err := s.query(ctx, `SELECT id, organization_id, url, events, secret, created_at FROM subscriptions WHERE organization_id = ? AND id > ? ORDER BY id LIMIT ?`, orgID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, sub)
	}
	return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func (s *SQL) DeleteSubscription(ctx context.Context, orgID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM subscriptions WHERE organization_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Webhook deliveries

const deliveryColumns = `id, organization_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, last_error, response_code, latency_ms, delivered_at, created_at`

func scanDelivery(row interface{ Scan(...any) error }) (WebhookDelivery, error) {
	var d WebhookDelivery
	var delivered sql.NullTime
	err := row.Scan(&d.ID, &d.OrganizationID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status,
		&d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered, &d.CreatedAt)
	if delivered.Valid {
		t := delivered.Time
		d.DeliveredAt = &t
	}
	return d, notFound(err)
}

func (s *SQL) EnqueueWebhook(ctx context.Context, orgID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO webhook_deliveries (id, organization_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,0,?,?)`, id, orgID, subscriptionID, eventType, url, secret, payload, DeliveryPending, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := s.query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE status IN (?, ?) AND next_attempt_at <= ? ORDER BY next_attempt_at LIMIT ?`,
		DeliveryPending, DeliveryRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = s.exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, last_error = '', response_code = ?, latency_ms = ?, delivered_at = ? WHERE id = ?`,
			DeliveryDelivered, responseCode, latencyMs, now, id)
	} else {
		next := now.Add(time.Minute)
		if nextAttemptAt != nil {
			next = nextAttemptAt.UTC()
		}
		res, err = s.exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, last_error = ?, response_code = ?, latency_ms = ?, next_attempt_at = ? WHERE id = ?`,
			DeliveryRetry, lastError, responseCode, latencyMs, next, id)
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	res, err := s.exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, last_error = ?, response_code = ?, latency_ms = ? WHERE id = ?`,
		DeliveryFailed, lastError, responseCode, latencyMs, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQL) ListWebhookDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE organization_id = ? AND id > ?`
	args := []any{orgID, cursor}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}
