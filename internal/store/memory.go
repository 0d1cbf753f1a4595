package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"driveguard/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu         sync.Mutex
	orgs       map[string]model.Organization
	users      map[string]model.User
	videos     map[string]model.Video
	analyses   map[string]model.VideoAnalysis // videoId -> analysis
	drivers    map[string]model.Driver
	vehicles   map[string]model.Vehicle
	subs       map[string]model.Subscription
	deliveries map[string]*WebhookDelivery

	// insertion order per collection, used for cursors
	orgOrder, userOrder, videoOrder, driverOrder, vehicleOrder, subOrder, deliveryOrder []string

	// persist runs with mu held after every successful write
	persist func() error
}

func NewMemory() *Memory {
	return &Memory{
		orgs:       map[string]model.Organization{},
		users:      map[string]model.User{},
		videos:     map[string]model.Video{},
		analyses:   map[string]model.VideoAnalysis{},
		drivers:    map[string]model.Driver{},
		vehicles:   map[string]model.Vehicle{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*WebhookDelivery{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

func (m *Memory) changed() error {
	if m.persist == nil {
		return nil
	}
	return m.persist()
}

// page walks ids from just after cursor and returns up to limit ids accepted by keep.
func page(ids []string, cursor string, limit int, keep func(id string) bool) ([]string, string) {
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		if i := slices.Index(ids, cursor); i >= 0 {
			start = i + 1
		}
	}
	var out []string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		if keep(ids[i]) {
			out = append(out, ids[i])
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1]
	}
	return out, next
}

func removeID(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// Organizations & users

func (m *Memory) CreateOrganization(ctx context.Context, name string) (model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if strings.EqualFold(o.Name, name) {
			return model.Organization{}, ErrConflict
		}
	}
	o := model.Organization{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	m.orgs[o.ID] = o
	m.orgOrder = append(m.orgOrder, o.ID)
	return o, m.changed()
}

func (m *Memory) Register(ctx context.Context, orgName string, u model.User) (model.Organization, model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.Organization{}, model.User{}, ErrEmailTaken
		}
	}
	for _, o := range m.orgs {
		if strings.EqualFold(o.Name, orgName) {
			return model.Organization{}, model.User{}, ErrOrganizationTaken
		}
	}
	now := time.Now().UTC()
	o := model.Organization{ID: uuid.New().String(), Name: orgName, CreatedAt: now}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.OrganizationID = o.ID
	m.orgs[o.ID] = o
	m.orgOrder = append(m.orgOrder, o.ID)
	m.users[u.ID] = u
	m.userOrder = append(m.userOrder, u.ID)
	return o, u, m.changed()
}

func (m *Memory) GetOrganization(ctx context.Context, id string) (model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return model.Organization{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) GetOrganizationByName(ctx context.Context, name string) (model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if strings.EqualFold(o.Name, name) {
			return o, nil
		}
	}
	return model.Organization{}, ErrNotFound
}

func (m *Memory) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.User{}, ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	m.userOrder = append(m.userOrder, u.ID)
	return u, m.changed()
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

// Videos

func (m *Memory) CreateVideo(ctx context.Context, v model.Video) (model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	m.videos[v.ID] = v
	m.videoOrder = append(m.videoOrder, v.ID)
	return v, m.changed()
}

func (m *Memory) GetVideo(ctx context.Context, orgID, id string) (model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok || (orgID != "" && v.OrganizationID != orgID) {
		return model.Video{}, ErrNotFound
	}
	return v, nil
}

// FindVideoByFilename returns the most recent video with that filename.
func (m *Memory) FindVideoByFilename(ctx context.Context, orgID, filename string) (model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.videoOrder) - 1; i >= 0; i-- {
		v := m.videos[m.videoOrder[i]]
		if v.Filename == filename && (orgID == "" || v.OrganizationID == orgID) {
			return v, nil
		}
	}
	return model.Video{}, ErrNotFound
}

func (m *Memory) ListVideos(ctx context.Context, orgID, cursor string, limit int) ([]model.Video, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.videoOrder, cursor, limit, func(id string) bool { return m.videos[id].OrganizationID == orgID })
	out := make([]model.Video, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.videos[id])
	}
	return out, next, nil
}

func (m *Memory) UpdateVideoStatus(ctx context.Context, id, status string, durationSeconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	if durationSeconds > 0 {
		v.DurationSeconds = durationSeconds
	}
	v.UpdatedAt = time.Now().UTC()
	m.videos[id] = v
	return m.changed()
}

// Analyses

func (m *Memory) UpsertAnalysis(ctx context.Context, a model.VideoAnalysis) (model.VideoAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[a.VideoID]; !ok {
		return model.VideoAnalysis{}, ErrNotFound
	}
	now := time.Now().UTC()
	if prev, ok := m.analyses[a.VideoID]; ok {
		a.ID = prev.ID
		a.CreatedAt = prev.CreatedAt
	} else {
		a.ID = uuid.New().String()
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.analyses[a.VideoID] = a
	return a, m.changed()
}

func (m *Memory) GetAnalysisByVideo(ctx context.Context, videoID string) (model.VideoAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[videoID]
	if !ok {
		return model.VideoAnalysis{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) Dashboard(ctx context.Context, orgID string) (model.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	var analyses []model.VideoAnalysis
	for _, id := range m.videoOrder {
		if m.videos[id].OrganizationID != orgID {
			continue
		}
		count++
		if a, ok := m.analyses[id]; ok {
			analyses = append(analyses, a)
		}
	}
	return BuildDashboard(count, analyses), nil
}

// Drivers

func (m *Memory) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New().String()
	d.CreatedAt = time.Now().UTC()
	m.drivers[d.ID] = d
	m.driverOrder = append(m.driverOrder, d.ID)
	return d, m.changed()
}

func (m *Memory) GetDriver(ctx context.Context, orgID, id string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.OrganizationID != orgID {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDrivers(ctx context.Context, orgID, cursor string, limit int) ([]model.Driver, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.driverOrder, cursor, limit, func(id string) bool { return m.drivers[id].OrganizationID == orgID })
	out := make([]model.Driver, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.drivers[id])
	}
	return out, next, nil
}

func (m *Memory) PatchDriver(ctx context.Context, orgID, id string, patch model.DriverPatch) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.OrganizationID != orgID {
		return model.Driver{}, ErrNotFound
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
	m.drivers[id] = d
	return d, m.changed()
}

func (m *Memory) DeleteDriver(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(m.drivers, id)
	m.driverOrder = removeID(m.driverOrder, id)
	return m.changed()
}

// Vehicles

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New().String()
	v.CreatedAt = time.Now().UTC()
	m.vehicles[v.ID] = v
	m.vehicleOrder = append(m.vehicleOrder, v.ID)
	return v, m.changed()
}

func (m *Memory) GetVehicle(ctx context.Context, orgID, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.OrganizationID != orgID {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) ListVehicles(ctx context.Context, orgID, cursor string, limit int) ([]model.Vehicle, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.vehicleOrder, cursor, limit, func(id string) bool { return m.vehicles[id].OrganizationID == orgID })
	out := make([]model.Vehicle, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.vehicles[id])
	}
	return out, next, nil
}

func (m *Memory) PatchVehicle(ctx context.Context, orgID, id string, patch model.VehiclePatch) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.OrganizationID != orgID {
		return model.Vehicle{}, ErrNotFound
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
	m.vehicles[id] = v
	return v, m.changed()
}

func (m *Memory) DeleteVehicle(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(m.vehicles, id)
	m.vehicleOrder = removeID(m.vehicleOrder, id)
	return m.changed()
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		URL:            req.URL,
		Events:         append([]string(nil), req.Events...),
		Secret:         req.Secret,
		CreatedAt:      time.Now().UTC(),
	}
	m.subs[s.ID] = s
	m.subOrder = append(m.subOrder, s.ID)
	return s, m.changed()
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, id := range m.subOrder {
		s := m.subs[id]
		if s.OrganizationID == orgID && slices.Contains(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.subOrder, cursor, limit, func(id string) bool { return m.subs[id].OrganizationID == orgID })
	out := make([]model.Subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.subs[id])
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(m.subs, id)
	m.subOrder = removeID(m.subOrder, id)
	return m.changed()
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, orgID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	d := &WebhookDelivery{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		URL:            url,
		Secret:         secret,
		Payload:        payload,
		Status:         DeliveryPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	}
	m.deliveries[d.ID] = d
	m.deliveryOrder = append(m.deliveryOrder, d.ID)
	return d.ID, m.changed()
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now().UTC()
		d.DeliveredAt = &now
		d.LastError = ""
	} else {
		d.Status = DeliveryRetry
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(time.Minute)
		}
	}
	return m.changed()
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return m.changed()
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, next := page(m.deliveryOrder, cursor, limit, func(id string) bool {
		d := m.deliveries[id]
		return d.OrganizationID == orgID && (status == "" || d.Status == status)
	})
	out := make([]WebhookDelivery, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.deliveries[id])
	}
	return out, next, nil
}
