package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	. "github.com/trezcool/convoca/apps/api/echo"
	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/tests"
)

var (
	conf = &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "Convoca",
		Server: core.ServerConfig{
			SecretKey:          "secret",
			JWTExpirationDelta: 10 * time.Minute,
		},
	}

	coordinator = core.Actor{ID: testutil.Coordinator, Email: "coord@test.cd", Role: core.RoleCoordinator}
	researcher  = core.Actor{ID: testutil.Researcher, Email: "researcher@test.cd", Role: core.RoleResearcher}
	evaluator   = core.Actor{ID: "evaluator-1", Email: "eval@test.cd", Role: core.RoleEvaluator}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

// setup returns an API server over a fresh in-memory application.
func setup(t *testing.T) (*testutil.Env, Server) {
	env := testutil.NewEnv(t)
	app := NewServer(&Options{
		Conf:           conf,
		Logger:         env.Logger,
		DisableReqLogs: true,
		RubricSvc:      env.RubricSvc,
		EvaluationSvc:  env.EvaluationSvc,
		SubmissionSvc:  env.SubmissionSvc,
		ApprovalCtrl:   env.ApprovalCtrl,
	})
	return env, app
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// serve runs the request of tt against app.
func serve(app Server, tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	app.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, actor core.Actor) string {
	token, err := GenerateToken(conf, NewClaims(conf, actor))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func unmarshallObj(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("unmarshallObj(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCode(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	checkCode(t, tt, rec)
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
