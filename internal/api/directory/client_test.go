package directory_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wariapp/wari/internal/api/directory"
)

func TestClient_SearchVehicleByPlate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/vehicles", r.URL.Path)
		assert.Equal(t, "ABC-123", r.URL.Query().Get("plate"))
		io.WriteString(w, `{"imei":"123456789012345","plate":"ABC-123"}`)
	}))
	defer srv.Close()

	client := directory.NewClient(srv.URL)
	v, err := client.SearchVehicleByPlate(context.Background(), "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345", v.IMEI)
	assert.Equal(t, "ABC-123", v.Plate)
}

func TestClient_SearchVehicleNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := directory.NewClient(srv.URL)
	_, err := client.SearchVehicleByPlate(context.Background(), "ZZZ-999")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	_, err = client.SearchVehicleByIMEI(context.Background(), "000000000000000")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

// 登录保存令牌，后续请求自动携带，注销后不再携带。
func TestClient_LoginTokenLifecycle(t *testing.T) {
	var lastAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/auth/login":
			io.WriteString(w, `{"token":"tok-1","user":{"name":"Rosa"}}`)
		case "/api/auth/me":
			io.WriteString(w, `{"name":"Rosa"}`)
		case "/api/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := directory.NewClient(srv.URL)
	ctx := context.Background()

	out, err := client.Login(ctx, "ABC-123", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", out.Token)
	assert.Equal(t, "tok-1", client.Token())

	_, err = client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", lastAuth)

	require.NoError(t, client.Logout(ctx))
	assert.Empty(t, client.Token())
}

// 注销即使失败也要清空本地令牌，下次登录从头开始。
func TestClient_LogoutClearsTokenOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := directory.NewClient(srv.URL)
	client.SetToken("tok-1")

	assert.Error(t, client.Logout(context.Background()))
	assert.Empty(t, client.Token())
}

func TestClient_ListDrivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/drivers", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("ordered"))
		io.WriteString(w, `[{"name":"Rosa"},{"name":"Luis"}]`)
	}))
	defer srv.Close()

	client := directory.NewClient(srv.URL)
	drivers, err := client.ListDrivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	assert.Equal(t, "Rosa", drivers[0].Name)
}
