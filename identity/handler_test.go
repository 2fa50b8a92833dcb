package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/identity"
	"github.com/goliatone/go-reconciler/identity/identitytest"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
	"github.com/goliatone/go-reconciler/store/sql/sqltest"
	metasync "github.com/goliatone/go-reconciler/sync"
)

func noWaitRetry() core.RetryExecutor {
	return core.RetryExecutor{MaxAttempts: 3, Backoff: core.FixedBackoffScheduler{}, Classifier: core.IsTransient}
}

type fixture struct {
	factory *sqlstore.RepositoryFactory
	client  *identitytest.Client
	handler *identity.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(sqltest.NewClient(t))
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	client := identitytest.NewClient()
	syncer := metasync.NewMetadataSyncer(factory, client, noWaitRetry(), nil)
	handler := identity.NewHandler(factory,
		identity.WithRetry(noWaitRetry()),
		identity.WithSyncer(syncer),
	)
	return fixture{factory: factory, client: client, handler: handler}
}

func eventBody(t *testing.T, eventType string, id string, email string, metadata map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]any{
			"id":                       id,
			"first_name":               "Ada",
			"last_name":                "Lovelace",
			"primary_email_address_id": "idn_1",
			"email_addresses": []map[string]any{
				{"id": "idn_0", "email_address": "secondary@other.test"},
				{"id": "idn_1", "email_address": email},
			},
			"public_metadata": metadata,
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func countRows(t *testing.T, f fixture, table string) int {
	t.Helper()
	var count int
	if err := f.factory.DB().NewRaw("SELECT COUNT(*) FROM " + table).Scan(context.Background(), &count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestHandle_UserCreatedBootstrapsAdminCompany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.Put(core.ProviderUser{ID: "user_1"})

	result, err := f.handler.Handle(ctx, core.InboundRequest{
		ProviderID: core.ProviderIdentity,
		Body:       eventBody(t, core.IdentityEventUserCreated, "user_1", "ada@acme.test", nil),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected result %#v", result)
	}

	user, err := f.factory.UserStore().Get(ctx, "user_1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.DisplayName != "Ada Lovelace" || user.Email != "ada@acme.test" {
		t.Fatalf("unexpected profile %#v", user)
	}
	if user.CompanyID == "" || user.CompanyID != user.DefaultCompanyID {
		t.Fatalf("expected home company to be set, got %#v", user)
	}
	company, err := f.factory.CompanyStore().Get(ctx, user.CompanyID)
	if err != nil {
		t.Fatalf("get company: %v", err)
	}
	if company.DisplayName != "New Company for acme.test" || company.Email != "default@acme.test" {
		t.Fatalf("unexpected placeholder company %#v", company)
	}
	membership, err := f.factory.MembershipStore().Get(ctx, user.ID, company.ID)
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	role, err := f.factory.RoleStore().Get(ctx, membership.RoleID)
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.Name != core.DefaultAdminRole {
		t.Fatalf("expected first user to be admin, got %q", role.Name)
	}
	if f.client.Metadata("user_1")["role"] != "admin" {
		t.Fatalf("expected metadata sync after create, got %#v", f.client.Metadata("user_1"))
	}
}

func TestHandle_DuplicateUserCreatedKeepsSingleRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	body := eventBody(t, core.IdentityEventUserCreated, "user_dup", "dup@acme.test", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(ctx, core.InboundRequest{ProviderID: core.ProviderIdentity, Body: body})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("handle duplicate: %v", err)
		}
	}

	for table, want := range map[string]int{"users": 1, "companies": 1, "company_users": 1} {
		if got := countRows(t, f, table); got != want {
			t.Fatalf("expected %d rows in %s, got %d", want, table, got)
		}
	}
}

func TestEnsureUser_SameDomainJoinsExistingCompanyAsUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, created, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_a", Email: "a@acme.test"})
	if err != nil || !created {
		t.Fatalf("ensure first user: created=%v err=%v", created, err)
	}
	second, created, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_b", Email: "b@ACME.test"})
	if err != nil || !created {
		t.Fatalf("ensure second user: created=%v err=%v", created, err)
	}
	if second.DefaultCompanyID != first.DefaultCompanyID {
		t.Fatalf("expected shared company, got %q and %q", first.DefaultCompanyID, second.DefaultCompanyID)
	}
	membership, err := f.factory.MembershipStore().Get(ctx, second.ID, second.CompanyID)
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	role, err := f.factory.RoleStore().Get(ctx, membership.RoleID)
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.Name != core.DefaultUserRole {
		t.Fatalf("expected joining user role, got %q", role.Name)
	}

	again, created, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_b", Email: "b@acme.test"})
	if err != nil || created || again.ID != second.ID {
		t.Fatalf("expected existing user unchanged, created=%v err=%v", created, err)
	}
}

func TestEnsureUser_RequiresEmailDomain(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.handler.EnsureUser(context.Background(), core.ProviderUser{ID: "user_x", Email: "not-an-email"})
	if err == nil {
		t.Fatalf("expected bad input error")
	}
	if mapped := core.MapError(err); mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}
	if got := countRows(t, f, "companies"); got != 0 {
		t.Fatalf("expected no company rows, got %d", got)
	}
}

func TestHandle_UserUpdatedRefreshesProfileAndSwitchesCompany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.Put(core.ProviderUser{ID: "user_1"})
	if _, _, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_1", Email: "ada@acme.test"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	other, _, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_2", Email: "bob@beta.test"})
	if err != nil {
		t.Fatalf("ensure other user: %v", err)
	}

	body := eventBody(t, core.IdentityEventUserUpdated, "user_1", "ada@new.test", map[string]any{"company_id": other.CompanyID})
	if _, err := f.handler.Handle(ctx, core.InboundRequest{ProviderID: core.ProviderIdentity, Body: body}); err != nil {
		t.Fatalf("handle update: %v", err)
	}

	user, err := f.factory.UserStore().Get(ctx, "user_1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Email != "ada@new.test" || user.DisplayName != "Ada Lovelace" {
		t.Fatalf("expected refreshed profile, got %#v", user)
	}
	if user.CompanyID != other.CompanyID {
		t.Fatalf("expected company switch to %q, got %q", other.CompanyID, user.CompanyID)
	}
	if user.DefaultCompanyID == other.CompanyID {
		t.Fatalf("expected home company to stay unchanged")
	}
	if _, err := f.factory.MembershipStore().Get(ctx, "user_1", other.CompanyID); err != nil {
		t.Fatalf("expected membership in the new company: %v", err)
	}
	if f.client.Metadata("user_1")["role"] != "user" {
		t.Fatalf("expected label for the new company, got %#v", f.client.Metadata("user_1"))
	}
}

func TestHandle_UnknownUserUpdateAndDeleteAreNoops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, eventType := range []string{core.IdentityEventUserUpdated, core.IdentityEventUserDeleted} {
		body := eventBody(t, eventType, "ghost", "ghost@acme.test", nil)
		if _, err := f.handler.Handle(ctx, core.InboundRequest{ProviderID: core.ProviderIdentity, Body: body}); err != nil {
			t.Fatalf("handle %s: %v", eventType, err)
		}
	}
	if got := countRows(t, f, "users"); got != 0 {
		t.Fatalf("expected no users, got %d", got)
	}
}

func TestHandle_UserDeletedRemovesUserAndHomeCompany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user, _, err := f.handler.EnsureUser(ctx, core.ProviderUser{ID: "user_1", Email: "ada@acme.test"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	body := eventBody(t, core.IdentityEventUserDeleted, "user_1", "ada@acme.test", nil)
	if _, err := f.handler.Handle(ctx, core.InboundRequest{ProviderID: core.ProviderIdentity, Body: body}); err != nil {
		t.Fatalf("handle delete: %v", err)
	}

	if _, err := f.factory.UserStore().Get(ctx, "user_1"); !core.IsNotFound(err) {
		t.Fatalf("expected user removed, got %v", err)
	}
	if _, err := f.factory.CompanyStore().Get(ctx, user.DefaultCompanyID); !core.IsNotFound(err) {
		t.Fatalf("expected company removed, got %v", err)
	}
	if got := countRows(t, f, "company_users"); got != 0 {
		t.Fatalf("expected memberships to cascade, got %d", got)
	}
}

func TestHandle_MalformedPayloadIsBadInput(t *testing.T) {
	f := newFixture(t)
	result, err := f.handler.Handle(context.Background(), core.InboundRequest{Body: []byte(`{"type":`)})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
}
