package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"driveguard/internal/model"
)

// JSONFile is a Memory store that snapshots itself to a single JSON document after every write.
type JSONFile struct {
	*Memory
	path string
}

type userRecord struct {
	model.User
	PasswordHash string `json:"password_hash"`
}

type deliveryRecord struct {
	WebhookDelivery
	Secret  string `json:"secret,omitempty"`
	Payload []byte `json:"payload"`
}

type snapshot struct {
	Organizations []model.Organization  `json:"organizations"`
	Users         []userRecord          `json:"users"`
	Videos        []model.Video         `json:"videos"`
	Analyses      []model.VideoAnalysis `json:"video_analyses"`
	Drivers       []model.Driver        `json:"drivers"`
	Vehicles      []model.Vehicle       `json:"vehicles"`
	Subscriptions []model.Subscription  `json:"subscriptions"`
	Deliveries    []deliveryRecord      `json:"webhook_deliveries"`
}

// OpenJSONFile loads path when it exists and returns a store persisting back to it.
func OpenJSONFile(path string) (*JSONFile, error) {
	j := &JSONFile{Memory: NewMemory(), path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		j.restore(snap)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	j.Memory.persist = j.save
	return j, nil
}

// Path returns the backing file.
func (j *JSONFile) Path() string { return j.path }

func (j *JSONFile) restore(snap snapshot) {
	m := j.Memory
	for _, o := range snap.Organizations {
		m.orgs[o.ID] = o
		m.orgOrder = append(m.orgOrder, o.ID)
	}
	for _, r := range snap.Users {
		u := r.User
		u.PasswordHash = r.PasswordHash
		m.users[u.ID] = u
		m.userOrder = append(m.userOrder, u.ID)
	}
	for _, v := range snap.Videos {
		m.videos[v.ID] = v
		m.videoOrder = append(m.videoOrder, v.ID)
	}
	for _, a := range snap.Analyses {
		m.analyses[a.VideoID] = a
	}
	for _, d := range snap.Drivers {
		m.drivers[d.ID] = d
		m.driverOrder = append(m.driverOrder, d.ID)
	}
	for _, v := range snap.Vehicles {
		m.vehicles[v.ID] = v
		m.vehicleOrder = append(m.vehicleOrder, v.ID)
	}
	for _, s := range snap.Subscriptions {
		m.subs[s.ID] = s
		m.subOrder = append(m.subOrder, s.ID)
	}
	for _, r := range snap.Deliveries {
		d := r.WebhookDelivery
		d.Secret = r.Secret
		d.Payload = r.Payload
		m.deliveries[d.ID] = &d
		m.deliveryOrder = append(m.deliveryOrder, d.ID)
	}
}

// save runs with the Memory mutex held.
func (j *JSONFile) save() error {
	m := j.Memory
	snap := snapshot{}
	for _, id := range m.orgOrder {
		snap.Organizations = append(snap.Organizations, m.orgs[id])
	}
	for _, id := range m.userOrder {
		u := m.users[id]
		snap.Users = append(snap.Users, userRecord{User: u, PasswordHash: u.PasswordHash})
	}
	for _, id := range m.videoOrder {
		snap.Videos = append(snap.Videos, m.videos[id])
		if a, ok := m.analyses[id]; ok {
			snap.Analyses = append(snap.Analyses, a)
		}
	}
	for _, id := range m.driverOrder {
		snap.Drivers = append(snap.Drivers, m.drivers[id])
	}
	for _, id := range m.vehicleOrder {
		snap.Vehicles = append(snap.Vehicles, m.vehicles[id])
	}
	for _, id := range m.subOrder {
		snap.Subscriptions = append(snap.Subscriptions, m.subs[id])
	}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		snap.Deliveries = append(snap.Deliveries, deliveryRecord{WebhookDelivery: *d, Secret: d.Secret, Payload: d.Payload})
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return writeFileAtomic(j.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
