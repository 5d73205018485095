package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/session"
)

var (
	errNotReady  = errors.New("not ready")
	errInvalid   = errors.New("invalid refresh token")
	errNotFound  = errors.New("principal not found")
	errBadCred   = errors.New("bad credential")
	errMapped    = errors.New("invalid credentials")
	errBackend   = errors.New("backend down")
	errRevoked   = errors.New("revoked")
	errBadToken  = errors.New("bad token")
	errReuse     = errors.New("reuse")
	errPolicy    = errors.New("policy")
	errWrongPass = errors.New("wrong old password")
)

type fakeGuard struct {
	locked      bool
	lockAfter   int
	failures    int
	cleared     int
	validateErr error
	recordErr   error
	clearErr    error
}

func (g *fakeGuard) ValidateNotLocked(context.Context, string) error {
	if g.validateErr != nil {
		return g.validateErr
	}
	if g.locked {
		return errors.New("locked")
	}
	return nil
}

func (g *fakeGuard) RecordFailure(context.Context, string) (bool, error) {
	if g.recordErr != nil {
		return false, g.recordErr
	}
	g.failures++
	return g.lockAfter > 0 && g.failures == g.lockAfter, nil
}

func (g *fakeGuard) ClearFailures(context.Context, string) error {
	g.cleared++
	return g.clearErr
}

type fakeIssuer struct {
	now       time.Time
	refreshes []string
	next      int
}

func (i *fakeIssuer) CreateAccessToken(p Principal, deviceID string) (string, *jwt.AccessClaims, error) {
	claims := &jwt.AccessClaims{
		UID:        p.ID,
		DeviceID:   deviceID,
		IssuedAtMs: i.now.UnixMilli(),
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   p.UUID,
			ID:        "jti-1",
			ExpiresAt: gojwt.NewNumericDate(i.now.Add(time.Minute)),
		},
	}
	return "access-" + deviceID, claims, nil
}

func (i *fakeIssuer) CreateRefreshToken() (string, error) {
	if i.next >= len(i.refreshes) {
		return "", errors.New("out of tokens")
	}
	tok := i.refreshes[i.next]
	i.next++
	return tok, nil
}

type fakeStore struct {
	records   map[string]*session.Record
	revoked   []string
	revokeErr error
	rotateErr error
	now       time.Time
	loads     int
}

func newFakeStore(now time.Time) *fakeStore {
	return &fakeStore{records: map[string]*session.Record{}, now: now}
}

func (s *fakeStore) StoreToken(_ context.Context, userID int64, token, deviceID, deviceInfo, ip string) (*session.Record, error) {
	rec := &session.Record{
		Token:      token,
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceInfo: deviceInfo,
		IPAddress:  ip,
		IssuedAt:   s.now.UnixMilli(),
		LastUsedAt: s.now.UnixMilli(),
		ExpiresAt:  s.now.Add(time.Hour).UnixMilli(),
	}
	s.records[token] = rec
	return rec.Clone(), nil
}

func (s *fakeStore) LoadValidToken(_ context.Context, token string) (*session.Record, error) {
	s.loads++
	rec, ok := s.records[token]
	if !ok {
		return nil, errInvalid
	}
	return rec.Clone(), nil
}

func (s *fakeStore) RotateToken(_ context.Context, oldToken, newToken string) (*session.Record, error) {
	if s.rotateErr != nil {
		return nil, s.rotateErr
	}
	old, ok := s.records[oldToken]
	if !ok {
		return nil, errInvalid
	}
	delete(s.records, oldToken)
	next := old.Clone()
	next.Token = newToken
	next.LastUsedAt = s.now.UnixMilli()
	s.records[newToken] = next
	return next.Clone(), nil
}

func (s *fakeStore) RevokeToken(_ context.Context, token string) error {
	s.revoked = append(s.revoked, token)
	if s.revokeErr != nil {
		return s.revokeErr
	}
	delete(s.records, token)
	return nil
}

func (s *fakeStore) RevokeAllByUserID(_ context.Context, userID int64) (int64, error) {
	var n int64
	for tok, rec := range s.records {
		if rec.UserID == userID {
			delete(s.records, tok)
			n++
		}
	}
	return n, nil
}

type fakeDenylist struct {
	jtis    map[string]time.Time
	markers map[string]time.Time
	err     error
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{jtis: map[string]time.Time{}, markers: map[string]time.Time{}}
}

func (d *fakeDenylist) Blacklist(_ context.Context, jti string, exp time.Time) error {
	if d.err != nil {
		return d.err
	}
	d.jtis[jti] = exp
	return nil
}

func (d *fakeDenylist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	_, ok := d.jtis[jti]
	return ok, d.err
}

func (d *fakeDenylist) MarkLogoutAll(_ context.Context, key string, at time.Time) error {
	d.markers[key] = at
	return d.err
}

func (d *fakeDenylist) LogoutAllAt(_ context.Context, key string) (time.Time, bool, error) {
	at, ok := d.markers[key]
	return at, ok, d.err
}

var testPrincipal = Principal{ID: 7, UUID: "uuid-7", Email: "a@example.com", Enabled: true}

func loginDeps(g *fakeGuard, verifyErr error, store *fakeStore, iss *fakeIssuer) LoginDeps {
	return LoginDeps{
		Guard: g,
		Verify: func(context.Context, string, string) (Principal, error) {
			if verifyErr != nil {
				return Principal{}, verifyErr
			}
			return testPrincipal, nil
		},
		IsVerifierOutcome: func(err error) bool { return errors.Is(err, errBadCred) },
		MapVerifyError:    func(error) error { return errMapped },
		Issuer:            iss,
		Store:             store,
		Errors:            LoginErrors{EngineNotReady: errNotReady},
	}
}

func TestRunLoginSuccess(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	g := &fakeGuard{}
	store := newFakeStore(now)
	iss := &fakeIssuer{now: now, refreshes: []string{"r1"}}

	res, err := RunLogin(context.Background(), LoginInput{Identity: " a@example.com ", Password: "pw", DeviceID: " "}, loginDeps(g, nil, store, iss))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.RefreshToken != "r1" || res.Record.DeviceID != session.DefaultDeviceID {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AccessToken != "access-"+session.DefaultDeviceID {
		t.Fatalf("unexpected access token %q", res.AccessToken)
	}
	if g.cleared != 1 {
		t.Fatalf("expected failures cleared once, got %d", g.cleared)
	}
}

func TestRunLoginOutcomeFailureIsRecorded(t *testing.T) {
	g := &fakeGuard{lockAfter: 2}
	deps := loginDeps(g, errBadCred, newFakeStore(time.Now()), &fakeIssuer{})

	res, err := RunLogin(context.Background(), LoginInput{Identity: "a", Password: "x"}, deps)
	if !errors.Is(err, errMapped) || res == nil || res.JustLocked {
		t.Fatalf("first failure: res=%+v err=%v", res, err)
	}
	res, err = RunLogin(context.Background(), LoginInput{Identity: "a", Password: "x"}, deps)
	if !errors.Is(err, errMapped) || res == nil || !res.JustLocked {
		t.Fatalf("second failure should lock: res=%+v err=%v", res, err)
	}
}

func TestRunLoginBackendFailureIsNotRecorded(t *testing.T) {
	g := &fakeGuard{}
	deps := loginDeps(g, errBackend, newFakeStore(time.Now()), &fakeIssuer{})

	_, err := RunLogin(context.Background(), LoginInput{Identity: "a", Password: "x"}, deps)
	if !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if g.failures != 0 {
		t.Fatalf("backend failure must not count, got %d", g.failures)
	}
}

func TestRunLoginRecordFailureErrorSurfaces(t *testing.T) {
	g := &fakeGuard{recordErr: errBackend}
	deps := loginDeps(g, errBadCred, newFakeStore(time.Now()), &fakeIssuer{})

	if _, err := RunLogin(context.Background(), LoginInput{Identity: "a", Password: "x"}, deps); !errors.Is(err, errBackend) {
		t.Fatalf("expected record error, got %v", err)
	}
}

func TestRunLoginClearFailureIsBestEffort(t *testing.T) {
	now := time.Now()
	g := &fakeGuard{clearErr: errBackend}
	deps := loginDeps(g, nil, newFakeStore(now), &fakeIssuer{now: now, refreshes: []string{"r1"}})
	var warned int
	deps.Warn = func(string, ...any) { warned++ }

	if _, err := RunLogin(context.Background(), LoginInput{Identity: "a", Password: "x"}, deps); err != nil {
		t.Fatalf("login: %v", err)
	}
	if warned != 1 {
		t.Fatalf("expected one warning, got %d", warned)
	}
}

func TestRunLoginLockedSkipsVerification(t *testing.T) {
	g := &fakeGuard{locked: true}
	deps := loginDeps(g, nil, newFakeStore(time.Now()), &fakeIssuer{})
	deps.Verify = func(context.Context, string, string) (Principal, error) {
		t.Fatal("verify must not run for a locked identity")
		return Principal{}, nil
	}
	if _, err := RunLogin(context.Background(), LoginInput{Identity: "a"}, deps); err == nil {
		t.Fatal("expected lock error")
	}
}

func refreshDeps(store *fakeStore, dl *fakeDenylist, iss *fakeIssuer, p Principal, loadErr error) RefreshDeps {
	return RefreshDeps{
		Store:    store,
		Denylist: dl,
		LoadPrincipal: func(context.Context, int64) (Principal, error) {
			return p, loadErr
		},
		Issuer: iss,
		Errors: RefreshErrors{
			EngineNotReady:      errNotReady,
			InvalidRefreshToken: errInvalid,
			PrincipalNotFound:   errNotFound,
		},
	}
}

func TestRunRefreshRotates(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	iss := &fakeIssuer{now: now, refreshes: []string{"r2"}}

	res := RunRefresh(context.Background(), "r1", refreshDeps(store, newFakeDenylist(), iss, testPrincipal, nil))
	if res.Failure != RefreshFailureNone || res.Err != nil {
		t.Fatalf("unexpected failure %v: %v", res.Failure, res.Err)
	}
	if res.RefreshToken != "r2" || res.AccessToken != "access-phone" {
		t.Fatalf("unexpected tokens %+v", res)
	}
}

func TestRunRefreshLoggedOutRevokes(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	dl := newFakeDenylist()
	dl.markers["uuid-7"] = now

	res := RunRefresh(context.Background(), "r1", refreshDeps(store, dl, &fakeIssuer{now: now, refreshes: []string{"r2"}}, testPrincipal, nil))
	if res.Failure != RefreshFailureLoggedOut || !errors.Is(res.Err, errInvalid) {
		t.Fatalf("expected logged-out failure, got %v: %v", res.Failure, res.Err)
	}
	if len(store.revoked) != 1 || store.revoked[0] != "r1" {
		t.Fatalf("expected r1 revoked, got %v", store.revoked)
	}
}

func TestRunRefreshUsedAfterMarkerPasses(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	dl := newFakeDenylist()
	dl.markers["uuid-7"] = now.Add(-time.Millisecond)

	res := RunRefresh(context.Background(), "r1", refreshDeps(store, dl, &fakeIssuer{now: now, refreshes: []string{"r2"}}, testPrincipal, nil))
	if res.Err != nil {
		t.Fatalf("expected success, got %v", res.Err)
	}
}

func TestRunRefreshDisabledPrincipalRevokesNewToken(t *testing.T) {
	now := time.Now()
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	p := testPrincipal
	p.Enabled = false

	res := RunRefresh(context.Background(), "r1", refreshDeps(store, newFakeDenylist(), &fakeIssuer{now: now, refreshes: []string{"r2"}}, p, nil))
	if res.Failure != RefreshFailureDisabled || !errors.Is(res.Err, errInvalid) {
		t.Fatalf("expected disabled failure, got %v: %v", res.Failure, res.Err)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no live records, got %d", len(store.records))
	}
}

func TestRunRefreshPrincipalErrors(t *testing.T) {
	now := time.Now()
	for _, tc := range []struct {
		name    string
		loadErr error
		kind    RefreshFailureKind
		want    error
	}{
		{"missing", errNotFound, RefreshFailurePrincipal, errInvalid},
		{"backend", errBackend, RefreshFailureStore, errBackend},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore(now)
			_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
			res := RunRefresh(context.Background(), "r1", refreshDeps(store, newFakeDenylist(), &fakeIssuer{now: now}, Principal{}, tc.loadErr))
			if res.Failure != tc.kind || !errors.Is(res.Err, tc.want) {
				t.Fatalf("got %v: %v", res.Failure, res.Err)
			}
		})
	}
}

func TestRunRefreshRotateLost(t *testing.T) {
	now := time.Now()
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	store.rotateErr = errInvalid

	res := RunRefresh(context.Background(), "r1", refreshDeps(store, newFakeDenylist(), &fakeIssuer{now: now, refreshes: []string{"r2"}}, testPrincipal, nil))
	if res.Failure != RefreshFailureRotate || !errors.Is(res.Err, errInvalid) {
		t.Fatalf("expected rotate failure, got %v: %v", res.Failure, res.Err)
	}
}

func TestRunLogoutJoinsErrors(t *testing.T) {
	store := newFakeStore(time.Now())
	store.revokeErr = errBackend
	dl := newFakeDenylist()
	dl.err = errRevoked
	claims := &jwt.AccessClaims{RegisteredClaims: gojwt.RegisteredClaims{
		ID:        "jti-1",
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}

	err := RunLogout(context.Background(), "r1", claims, LogoutDeps{Store: store, Denylist: dl})
	if !errors.Is(err, errBackend) || !errors.Is(err, errRevoked) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestRunRefreshMalformedTokenSkipsStore(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "phone", "", "")
	deps := refreshDeps(store, newFakeDenylist(), &fakeIssuer{now: now}, testPrincipal, nil)
	deps.WellFormed = func(token string) bool { return len(token) > 2 }

	res := RunRefresh(context.Background(), "r1", deps)
	if res.Failure != RefreshFailureInvalid || !errors.Is(res.Err, errInvalid) {
		t.Fatalf("expected invalid, got %v: %v", res.Failure, res.Err)
	}
	if store.loads != 0 {
		t.Fatalf("malformed token must not reach the store, got %d loads", store.loads)
	}
}

func TestRunLogoutMalformedTokenStillDenylistsAccess(t *testing.T) {
	store := newFakeStore(time.Now())
	dl := newFakeDenylist()
	claims := &jwt.AccessClaims{RegisteredClaims: gojwt.RegisteredClaims{
		ID:        "jti-2",
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	deps := LogoutDeps{Store: store, Denylist: dl, WellFormed: func(string) bool { return false }}

	if err := RunLogout(context.Background(), "not-a-token", claims, deps); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(store.revoked) != 0 {
		t.Fatalf("expected no revoke, got %v", store.revoked)
	}
	if _, ok := dl.jtis["jti-2"]; !ok {
		t.Fatal("expected access token denylisted")
	}
}

func TestRunLogoutAllMarksUserKey(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newFakeStore(now)
	_, _ = store.StoreToken(context.Background(), 7, "r1", "a", "", "")
	_, _ = store.StoreToken(context.Background(), 7, "r2", "b", "", "")
	_, _ = store.StoreToken(context.Background(), 8, "r3", "c", "", "")
	dl := newFakeDenylist()

	n, err := RunLogoutAll(context.Background(), 7, "uuid-7", LogoutDeps{Store: store, Denylist: dl, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 || len(store.records) != 1 {
		t.Fatalf("expected 2 revoked and 1 left, got %d / %d", n, len(store.records))
	}
	if !dl.markers["uuid-7"].Equal(now) {
		t.Fatalf("unexpected marker %v", dl.markers["uuid-7"])
	}
}

func validateDeps(dl *fakeDenylist, claims *jwt.AccessClaims) ValidateDeps {
	return ValidateDeps{
		ParseAccess: func(s string) (*jwt.AccessClaims, error) {
			if s != "good" {
				return nil, errors.New("parse")
			}
			return claims, nil
		},
		Denylist: dl,
		Errors:   ValidateErrors{EngineNotReady: errNotReady, TokenInvalid: errBadToken, TokenRevoked: errRevoked},
	}
}

func TestRunValidate(t *testing.T) {
	issued := time.UnixMilli(1_700_000_000_123)
	claims := &jwt.AccessClaims{
		IssuedAtMs:       issued.UnixMilli(),
		RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-1", Subject: "uuid-7"},
	}

	dl := newFakeDenylist()
	if res := RunValidate(context.Background(), "bad", validateDeps(dl, claims)); !errors.Is(res.Err, errBadToken) {
		t.Fatalf("expected invalid, got %v", res.Err)
	}
	if res := RunValidate(context.Background(), "good", validateDeps(dl, claims)); res.Err != nil {
		t.Fatalf("expected valid, got %v", res.Err)
	}

	dl.markers["uuid-7"] = issued
	if res := RunValidate(context.Background(), "good", validateDeps(dl, claims)); !errors.Is(res.Err, errRevoked) {
		t.Fatalf("same-millisecond marker must revoke, got %v", res.Err)
	}

	dl.markers["uuid-7"] = issued.Add(-time.Millisecond)
	if res := RunValidate(context.Background(), "good", validateDeps(dl, claims)); res.Err != nil {
		t.Fatalf("older marker must not revoke, got %v", res.Err)
	}

	dl.jtis["jti-1"] = time.Now()
	if res := RunValidate(context.Background(), "good", validateDeps(dl, claims)); !errors.Is(res.Err, errRevoked) {
		t.Fatalf("denylisted jti must revoke, got %v", res.Err)
	}
}

func TestRunChangePassword(t *testing.T) {
	var stored string
	deps := PasswordDeps{
		VerifyPassword: func(pw, hash string) (bool, error) { return "h:"+pw == hash, nil },
		HashPassword: func(pw string) (string, error) {
			if len(pw) < 4 {
				return "", errPolicy
			}
			return "h:" + pw, nil
		},
		UpdatePasswordHash: func(_ context.Context, _ int64, h string) error {
			stored = h
			return nil
		},
		Errors: PasswordErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: errWrongPass,
			PasswordReuse:      errReuse,
			PasswordPolicy:     errPolicy,
		},
	}
	in := func(old, next string) PasswordChangeInput {
		return PasswordChangeInput{UserID: 1, CurrentHash: "h:secret", OldPassword: old, NewPassword: next}
	}
	ctx := context.Background()

	for _, tc := range []struct {
		old, next string
		want      error
	}{
		{"", "whatever", errPolicy},
		{"secret", "  ", errPolicy},
		{"nope", "fresh-one", errWrongPass},
		{"secret", "secret", errReuse},
		{"secret", "abc", errPolicy},
	} {
		if err := RunChangePassword(ctx, in(tc.old, tc.next), deps); !errors.Is(err, tc.want) {
			t.Fatalf("%q -> %q: expected %v, got %v", tc.old, tc.next, tc.want, err)
		}
	}
	if stored != "" {
		t.Fatalf("rejected changes must not persist, got %q", stored)
	}

	if err := RunChangePassword(ctx, in("secret", "fresh-one"), deps); err != nil {
		t.Fatalf("change: %v", err)
	}
	if stored != "h:fresh-one" {
		t.Fatalf("unexpected stored hash %q", stored)
	}
}

func TestServiceInitialized(t *testing.T) {
	if New(Deps{}).Initialized() {
		t.Fatal("empty deps must not be initialized")
	}
	s := New(Deps{
		Login:   LoginDeps{Guard: &fakeGuard{}},
		Refresh: RefreshDeps{Store: newFakeStore(time.Now())},
	})
	if !s.Initialized() {
		t.Fatal("expected initialized service")
	}
}
