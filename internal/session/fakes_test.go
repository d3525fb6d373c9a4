package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
	"github.com/roundcast/backend/internal/sources"
)

// clip is the content of every fake media file: the properties a real
// transcode would change, serialised as JSON.
type clip struct {
	Width   int           `json:"w"`
	Height  int           `json:"h"`
	Seconds float64       `json:"s"`
	Texts   []string      `json:"texts,omitempty"`
	Effect  models.Effect `json:"effect,omitempty"`
	Audio   string        `json:"audio,omitempty"`
}

func writeClip(dir string, c clip) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	path := media.NewTempPath(dir, ".mp4")
	return path, os.WriteFile(path, raw, 0o600)
}

func readClip(path string) (clip, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return clip{}, err
	}
	var c clip
	return c, json.Unmarshal(raw, &c)
}

// fakeEngine mimics media.Engine on clip files, consuming every input.
type fakeEngine struct {
	dir string

	mu    sync.Mutex
	ops   []string
	hook  func(ctx context.Context, op string) error
	fails map[string]error
}

func (e *fakeEngine) begin(ctx context.Context, op string, inputs ...string) error {
	e.mu.Lock()
	e.ops = append(e.ops, op)
	hook, fail := e.hook, e.fails[op]
	e.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			fail = err
		}
	}
	if fail != nil {
		for _, in := range inputs {
			_ = media.Remove(in)
		}
	}
	return fail
}

func (e *fakeEngine) opsSeen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ops...)
}

func (e *fakeEngine) consume(path string) (clip, error) {
	defer media.Remove(path)
	c, err := readClip(path)
	if err != nil {
		return clip{}, fmt.Errorf("%w: %v", media.ErrInvalidMedia, err)
	}
	return c, nil
}

func (e *fakeEngine) emit(c clip) (media.Output, error) {
	path, err := writeClip(e.dir, c)
	if err != nil {
		return media.Output{}, err
	}
	return media.Output{Path: path, Size: c.Width, Duration: int(c.Seconds), HasAudio: c.Audio != ""}, nil
}

func crop(c clip) clip {
	edge := min(c.Width, c.Height)
	c.Width, c.Height = edge, edge
	return c
}

func (e *fakeEngine) SquareCrop(ctx context.Context, path string, maxDuration time.Duration) (media.Output, error) {
	if err := e.begin(ctx, "crop", path); err != nil {
		return media.Output{}, err
	}
	c, err := e.consume(path)
	if err != nil {
		return media.Output{}, err
	}
	c = crop(c)
	if c.Seconds > maxDuration.Seconds() {
		c.Seconds = maxDuration.Seconds()
	}
	return e.emit(c)
}

func (e *fakeEngine) OverlayText(ctx context.Context, path, text string) (media.Output, error) {
	if err := e.begin(ctx, "overlay", path); err != nil {
		return media.Output{}, err
	}
	c, err := e.consume(path)
	if err != nil {
		return media.Output{}, err
	}
	c = crop(c)
	c.Texts = append(c.Texts, text)
	return e.emit(c)
}

func (e *fakeEngine) ApplyEffect(ctx context.Context, path string, effect models.Effect) (media.Output, error) {
	if err := e.begin(ctx, "effect", path); err != nil {
		return media.Output{}, err
	}
	c, err := e.consume(path)
	if err != nil {
		return media.Output{}, err
	}
	if effect.Filter() == "" {
		return media.Output{}, media.ErrUnknownEffect
	}
	c.Effect = effect
	return e.emit(c)
}

func (e *fakeEngine) ReplaceAudio(ctx context.Context, videoPath, audioPath string) (media.Output, error) {
	if err := e.begin(ctx, "audio", videoPath, audioPath); err != nil {
		return media.Output{}, err
	}
	video, err := e.consume(videoPath)
	if err != nil {
		_ = media.Remove(audioPath)
		return media.Output{}, err
	}
	audio, err := e.consume(audioPath)
	if err != nil {
		return media.Output{}, err
	}
	video.Audio = audio.Audio
	return e.emit(video)
}

// fakePublisher stands in for the relay chat.
type fakePublisher struct {
	mu           sync.Mutex
	next         int
	messages     map[int]clip
	byHandle     map[string]clip
	live         map[int]bool
	retracted    []int
	publishes    int
	publishErr   error
	retractFails bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[int]clip), byHandle: make(map[string]clip), live: make(map[int]bool)}
}

func (p *fakePublisher) Publish(_ context.Context, m relay.Media) (relay.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return relay.Receipt{}, fmt.Errorf("%w: %v", relay.ErrRelay, p.publishErr)
	}

	var c clip
	switch {
	case m.Path != "":
		read, err := readClip(m.Path)
		if err != nil {
			return relay.Receipt{}, fmt.Errorf("%w: %v", relay.ErrRelay, err)
		}
		c = read
	case m.Handle != "":
		known, ok := p.byHandle[m.Handle]
		if !ok {
			known = clip{Width: m.Size, Height: m.Size, Seconds: float64(m.Duration)}
		}
		c = known
	default:
		return relay.Receipt{}, relay.ErrRelay
	}

	p.publishes++
	p.next++
	prefix := "note"
	if m.Format == relay.FormatAnimation {
		prefix = "anim"
	}
	handle := fmt.Sprintf("%s-%d", prefix, p.next)
	p.messages[p.next] = c
	p.byHandle[handle] = c
	p.live[p.next] = true
	return relay.Receipt{Handle: handle, MessageID: p.next}, nil
}

func (p *fakePublisher) Retract(_ context.Context, messageID int) {
	if messageID == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retracted = append(p.retracted, messageID)
	if !p.retractFails {
		delete(p.live, messageID)
	}
}

func (p *fakePublisher) Preview(ctx context.Context, _ relay.PreviewKey, render relay.RenderFunc) (string, error) {
	m, err := render(ctx)
	if err != nil {
		return "", err
	}
	defer media.Remove(m.Path)
	m.Format = relay.FormatAnimation
	receipt, err := p.Publish(ctx, m)
	if err != nil {
		return "", err
	}
	p.Retract(ctx, receipt.MessageID)
	return receipt.Handle, nil
}

func (p *fakePublisher) clipFor(handle string) clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byHandle[handle]
}

func (p *fakePublisher) liveMessages() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int
	for id := range p.live {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (p *fakePublisher) retractions() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.retracted...)
}

func (p *fakePublisher) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishes
}

// fakeSources keeps an archive directory and a table of platform files.
type fakeSources struct {
	tmpDir     string
	archiveDir string

	mu        sync.Mutex
	platform  map[string]clip
	next      int
	discarded []string
}

func (s *fakeSources) addPlatformFile(id string, c clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform[id] = c
}

func (s *fakeSources) Open(_ context.Context, handle string) (string, error) {
	scheme, ref, err := sources.ParseHandle(handle)
	if err != nil {
		return "", err
	}
	switch scheme {
	case sources.SchemeTelegram, "stock":
		s.mu.Lock()
		c, ok := s.platform[ref]
		s.mu.Unlock()
		if !ok {
			return "", sources.ErrSourceMissing
		}
		return writeClip(s.tmpDir, c)
	case sources.SchemeFile:
		c, err := readClip(filepath.Join(s.archiveDir, ref))
		if err != nil {
			return "", sources.ErrSourceMissing
		}
		return writeClip(s.tmpDir, c)
	}
	return "", sources.ErrUnknownScheme
}

func (s *fakeSources) Keep(_ context.Context, ownerID int64, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.next++
	ref := fmt.Sprintf("%d-%d.mp4", ownerID, s.next)
	s.mu.Unlock()
	if err := os.WriteFile(filepath.Join(s.archiveDir, ref), raw, 0o600); err != nil {
		return "", err
	}
	return sources.Handle(sources.SchemeFile, ref), nil
}

func (s *fakeSources) Discard(_ context.Context, handle string) {
	s.mu.Lock()
	s.discarded = append(s.discarded, handle)
	s.mu.Unlock()
	scheme, ref, err := sources.ParseHandle(handle)
	if err != nil || scheme != sources.SchemeFile {
		return
	}
	_ = os.Remove(filepath.Join(s.archiveDir, ref))
}

func (s *fakeSources) archived() []string {
	entries, _ := os.ReadDir(s.archiveDir)
	var names []string
	for _, entry := range entries {
		names = append(names, sources.Handle(sources.SchemeFile, entry.Name()))
	}
	return names
}

type fakeFetcher struct {
	dir  string
	clip clip
	err  error
	urls []string
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string) (string, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return "", f.err
	}
	return writeClip(f.dir, f.clip)
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

// memStore is an in-memory content store.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]models.User
	artifacts map[int64]models.Artifact
	templates map[int64]models.Template
	nextID    int64
	updateErr error
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]models.User),
		artifacts: make(map[int64]models.Artifact),
		templates: make(map[int64]models.Template),
	}
}

func (s *memStore) contentStore() repositories.ContentStore {
	return repositories.ContentStore{
		Users:     memUsers{s},
		Artifacts: memArtifacts{s},
		Templates: memTemplates{s},
		Close:     func() {},
	}
}

func (s *memStore) artifactCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

func (s *memStore) artifact(id int64) (models.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	return a, ok
}

func (s *memStore) only(t *testing.T) models.Artifact {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.artifacts) != 1 {
		t.Fatalf("expected exactly one artifact, got %d", len(s.artifacts))
	}
	for _, a := range s.artifacts {
		return a
	}
	return models.Artifact{}
}

type memUsers struct{ s *memStore }

func (u memUsers) Upsert(_ context.Context, user models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if existing, ok := u.s.users[user.ID]; ok {
		user.RegisteredAt = existing.RegisteredAt
	}
	u.s.users[user.ID] = user
	return nil
}

func (u memUsers) Find(_ context.Context, id int64) (models.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

type memArtifacts struct{ s *memStore }

func (r memArtifacts) Create(_ context.Context, a models.Artifact) (models.Artifact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createErr != nil {
		return models.Artifact{}, r.s.createErr
	}
	if _, ok := r.s.users[a.OwnerID]; !ok {
		return models.Artifact{}, errors.New("owner does not exist")
	}
	r.s.nextID++
	a.ID = r.s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Unix(r.s.nextID, 0).UTC()
	}
	r.s.artifacts[a.ID] = a
	return a, nil
}

func (r memArtifacts) Update(_ context.Context, a models.Artifact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.updateErr != nil {
		return r.s.updateErr
	}
	prior, ok := r.s.artifacts[a.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	a.CreatedAt = prior.CreatedAt
	r.s.artifacts[a.ID] = a
	return nil
}

func (r memArtifacts) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.artifacts[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.s.artifacts, id)
	return nil
}

func (r memArtifacts) Get(_ context.Context, id int64) (models.Artifact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.artifacts[id]
	if !ok {
		return models.Artifact{}, repositories.ErrNotFound
	}
	return a, nil
}

func (r memArtifacts) ListByOwner(_ context.Context, ownerID int64, limit int) ([]models.Artifact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Artifact
	for _, a := range r.s.artifacts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTemplates struct{ s *memStore }

func (r memTemplates) Create(_ context.Context, tpl models.Template) (models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	tpl.ID = r.s.nextID
	r.s.templates[tpl.ID] = tpl
	return tpl, nil
}

func (r memTemplates) Delete(_ context.Context, ownerID, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tpl, ok := r.s.templates[id]
	if !ok || tpl.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	delete(r.s.templates, id)
	return nil
}

func (r memTemplates) ListByOwner(_ context.Context, ownerID int64) ([]models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Template
	for _, tpl := range r.s.templates {
		if tpl.OwnerID == ownerID {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// harness wires a Machine to the fakes above.
type harness struct {
	t       *testing.T
	m       *Machine
	store   *memStore
	engine  *fakeEngine
	relay   *fakePublisher
	sources *fakeSources
	fetcher *fakeFetcher
	tmpDir  string
}

func allFeatures() Features {
	return Features{Caption: true, Effects: true, Templates: true, AudioReplace: true}
}

func newHarness(t *testing.T, configure ...func(*Config, *Deps)) *harness {
	t.Helper()
	root := t.TempDir()
	tmpDir := filepath.Join(root, "tmp")
	archiveDir := filepath.Join(root, "archive")
	for _, dir := range []string{tmpDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	h := &harness{
		t:       t,
		store:   newMemStore(),
		engine:  &fakeEngine{dir: tmpDir, fails: make(map[string]error)},
		relay:   newFakePublisher(),
		sources: &fakeSources{tmpDir: tmpDir, archiveDir: archiveDir, platform: make(map[string]clip)},
		fetcher: &fakeFetcher{dir: tmpDir, clip: clip{Width: 1280, Height: 720, Seconds: 12}},
		tmpDir:  tmpDir,
	}

	cfg := Config{ProcessingTimeout: 2 * time.Second, Features: allFeatures()}
	deps := Deps{
		Store:   h.store.contentStore(),
		Engine:  h.engine,
		Relay:   h.relay,
		Sources: h.sources,
		Fetcher: h.fetcher,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&cfg, &deps)
	}
	h.m = New(deps, cfg)
	return h
}

// startVideo opens a session from a 16:9 platform video.
func (h *harness) startVideo(userID int64) Result {
	h.t.Helper()
	id := fmt.Sprintf("vid-%d", userID)
	h.sources.addPlatformFile(id, clip{Width: 1280, Height: 720, Seconds: 20, Audio: "original"})
	res, err := h.m.OnVideo(context.Background(), userID, VideoInput{FileID: id, Duration: 20, Width: 1280, Height: 720})
	if err != nil {
		h.t.Fatalf("OnVideo: %v", err)
	}
	return res
}

func (h *harness) must(res Result, err error) Result {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	return res
}

// assertNoTempFiles fails if any processing step leaked a file.
func (h *harness) assertNoTempFiles() {
	h.t.Helper()
	entries, err := os.ReadDir(h.tmpDir)
	if err != nil {
		h.t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		h.t.Fatalf("temp files left behind: %s", strings.Join(names, ", "))
	}
}

func (h *harness) step(userID int64) Step {
	h.t.Helper()
	step, ok := h.m.Active(userID)
	if !ok {
		h.t.Fatalf("expected an active session for %d", userID)
	}
	return step
}
