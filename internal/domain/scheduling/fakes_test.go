package scheduling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/domain/identity"
)

// memDB is the shared state behind every in-memory repository below.
type memDB struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]bool
	windows  []Window
	appts    map[uuid.UUID]*Appointment
	users    map[uuid.UUID]*identity.User
	emails   map[string]bool
	patients map[uuid.UUID]*identity.Patient
	locks    int
	// ops records the order of lock and read calls.
	ops []string

	// failure injection
	windowsErr   error
	listErr      error
	createErr    error
	hideExisting bool
	beforeUpdate func(*Appointment)
}

func newMemDB() *memDB {
	return &memDB{
		doctors:  make(map[uuid.UUID]bool),
		appts:    make(map[uuid.UUID]*Appointment),
		users:    make(map[uuid.UUID]*identity.User),
		emails:   make(map[string]bool),
		patients: make(map[uuid.UUID]*identity.Patient),
	}
}

type memSnapshot struct {
	appts    map[uuid.UUID]*Appointment
	users    map[uuid.UUID]*identity.User
	emails   map[string]bool
	patients map[uuid.UUID]*identity.Patient
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		appts:    make(map[uuid.UUID]*Appointment, len(m.appts)),
		users:    make(map[uuid.UUID]*identity.User, len(m.users)),
		emails:   make(map[string]bool, len(m.emails)),
		patients: make(map[uuid.UUID]*identity.Patient, len(m.patients)),
	}
	for k, v := range m.appts {
		cp := *v
		s.appts[k] = &cp
	}
	for k, v := range m.users {
		cp := *v
		s.users[k] = &cp
	}
	for k, v := range m.emails {
		s.emails[k] = v
	}
	for k, v := range m.patients {
		cp := *v
		s.patients[k] = &cp
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts, m.users, m.emails, m.patients = s.appts, s.users, s.emails, s.patients
}

func (m *memDB) addDoctor() uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.doctors[id] = true
	m.mu.Unlock()
	return id
}

func (m *memDB) addWindow(doctorID uuid.UUID, day time.Weekday, start, end string) {
	w := Window{DoctorID: doctorID, DayOfWeek: day, Start: mustTime(start), End: mustTime(end)}
	m.mu.Lock()
	m.windows = append(m.windows, w)
	m.mu.Unlock()
}

func (m *memDB) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &identity.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: identity.RolePatient, FirstName: "Ada", LastName: "Lovelace"}
	p := &identity.Patient{ID: uuid.New(), UserID: u.ID, Gender: identity.GenderFemale}
	m.users[u.ID] = u
	m.emails[u.Email] = true
	m.patients[p.ID] = p
	return p.ID
}

func (m *memDB) addAppointment(doctorID uuid.UUID, date, start string, minutes int, status Status) *Appointment {
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        doctorID,
		Date:            mustDate(date),
		Time:            mustTime(start),
		DurationMinutes: minutes,
		Type:            TypeConsultation,
		Status:          status,
	}
	m.mu.Lock()
	m.appts[a.ID] = a
	m.mu.Unlock()
	return a
}

func (m *memDB) counts() (appts, users, patients int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts), len(m.users), len(m.patients)
}

func (m *memDB) status(id uuid.UUID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id].Status
}

// -- Transactor --

// memTx runs one unit of work at a time and restores the state captured at
// its start when the unit fails.
type memTx struct {
	db        *memDB
	serial    sync.Mutex
	commits   int
	rollbacks int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.serial.Lock()
	defer t.serial.Unlock()

	snap := t.db.snapshot()
	if err := fn(ctx); err != nil {
		t.db.restore(snap)
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

// -- Schedule Repository --

type memScheduleRepo struct{ db *memDB }

func (r memScheduleRepo) ActiveWindows(_ context.Context, doctorID uuid.UUID, day time.Weekday) ([]Window, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.ops = append(r.db.ops, "windows")
	if r.db.windowsErr != nil {
		return nil, r.db.windowsErr
	}
	var out []Window
	for _, w := range r.db.windows {
		if w.DoctorID == doctorID && w.DayOfWeek == day {
			out = append(out, w)
		}
	}
	return out, nil
}

// -- Appointment Repository --

type memApptRepo struct{ db *memDB }

func (r memApptRepo) LockDoctorDay(context.Context, uuid.UUID, Date) error {
	r.db.mu.Lock()
	r.db.locks++
	r.db.ops = append(r.db.ops, "lock")
	r.db.mu.Unlock()
	return nil
}

func (r memApptRepo) ListForDoctorOnDate(_ context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.ops = append(r.db.ops, "appointments")
	if r.db.listErr != nil {
		return nil, r.db.listErr
	}
	if r.db.hideExisting {
		return nil, nil
	}
	var out []*Appointment
	for _, a := range r.db.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memApptRepo) Create(_ context.Context, a *Appointment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.createErr != nil {
		return r.db.createErr
	}
	for _, other := range r.db.appts {
		if other.DoctorID == a.DoctorID && other.Date.Equal(a.Date) && other.Time == a.Time && other.Status.BlocksSlot() {
			return ErrSlotTaken
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.db.appts[a.ID] = &cp
	return nil
}

func (r memApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memApptRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var all []*Appointment
	for _, a := range r.db.appts {
		if a.DoctorID == doctorID {
			cp := *a
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r memApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appts[id]
	if !ok {
		return nil, ErrStatusChanged
	}
	if r.db.beforeUpdate != nil {
		r.db.beforeUpdate(a)
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r memApptRepo) ListOpenThrough(_ context.Context, date Date) ([]*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Appointment
	for _, a := range r.db.appts {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && !a.Date.Time().After(date.Time()) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Identity directories and repositories --

type memDirectory struct{ db *memDB }

func (d memDirectory) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	d.db.ops = append(d.db.ops, "doctor")
	return d.db.doctors[id], nil
}

func (d memDirectory) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	d.db.ops = append(d.db.ops, "patient")
	_, ok := d.db.patients[id]
	return ok, nil
}

type memUserRepo struct{ db *memDB }

func (r memUserRepo) Create(_ context.Context, u *identity.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.emails[u.Email] {
		return identity.ErrDuplicateEmail
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.db.users[u.ID] = &cp
	r.db.emails[u.Email] = true
	return nil
}

func (r memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memPatientRepo struct{ db *memDB }

func (r memPatientRepo) Create(_ context.Context, p *identity.Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.db.patients[p.ID] = &cp
	return nil
}

func (r memPatientRepo) GetIdentity(ctx context.Context, id uuid.UUID) (identity.PatientIdentity, error) {
	r.db.mu.Lock()
	p, ok := r.db.patients[id]
	r.db.mu.Unlock()
	if !ok {
		return nil, identity.ErrNotFound
	}
	u, err := memUserRepo{r.db}.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return identity.NewPatientIdentity(u, p), nil
}

func (r memPatientRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.patients[id]
	return ok, nil
}

// -- Publisher --

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// -- Fixture --

const placeholderDomain = "patients.placeholder.invalid"

type fixture struct {
	svc *Service
	db  *memDB
	tx  *memTx
	pub *recordingPublisher
}

func newFixture() *fixture {
	mdb := newMemDB()
	tx := &memTx{db: mdb}
	pub := &recordingPublisher{}
	provisioner := identity.NewPlaceholderService(
		memUserRepo{mdb}, memPatientRepo{mdb},
		identity.BcryptHasher{Cost: bcrypt.MinCost},
		identity.PlaceholderConfig{EmailDomain: placeholderDomain, EmailAttempts: 3},
	)
	svc, err := NewService(Config{SlotGranularityMinutes: 30, DefaultDurationMinutes: 30, Location: time.UTC}, Deps{
		Tx:           tx,
		Schedules:    memScheduleRepo{mdb},
		Appointments: memApptRepo{mdb},
		Doctors:      memDirectory{mdb},
		Patients:     memDirectory{mdb},
		Provisioner:  provisioner,
		Publisher:    pub,
	})
	if err != nil {
		panic(err)
	}
	return &fixture{svc: svc, db: mdb, tx: tx, pub: pub}
}

func mustTime(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func slotStrings(slots []TimeOfDay) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.String()
	}
	return out
}

var errInjected = errors.New("injected failure")
