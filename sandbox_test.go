package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestCreateSandboxPopulatesTeam(t *testing.T) {
	env := newTestEnv(t)
	env.client.teamID = "team-1"

	var gotBody map[string]interface{}
	env.mux.HandleFunc("POST /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, Sandbox{ID: "sb-new", Status: StatusPending})
	})

	sb, err := env.client.CreateSandbox(context.Background(), &CreateSandboxRequest{
		Name:        "demo",
		DockerImage: "python:3.12-slim",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.ID != "sb-new" || sb.Status != StatusPending {
		t.Errorf("unexpected sandbox: %+v", sb)
	}
	if gotBody["team_id"] != "team-1" {
		t.Errorf("team_id = %v, want team-1", gotBody["team_id"])
	}
	if gotBody["docker_image"] != "python:3.12-slim" {
		t.Errorf("docker_image = %v", gotBody["docker_image"])
	}
}

func TestCreateSandboxValidation(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.mux.HandleFunc("POST /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := env.client.CreateSandbox(context.Background(), &CreateSandboxRequest{
		DockerImage: "python:3.12-slim",
	})
	if err == nil {
		t.Fatal("expected validation error for missing name")
	}
	if called {
		t.Error("request should not be sent when validation fails")
	}

	_, err = env.client.CreateSandbox(context.Background(), &CreateSandboxRequest{
		Name:            "demo",
		DockerImage:     "python:3.12-slim",
		EnvironmentVars: map[string]string{"1BAD": "x"},
	})
	if err == nil {
		t.Fatal("expected validation error for bad env name")
	}
}

func TestListSandboxesQuery(t *testing.T) {
	env := newTestEnv(t)
	env.client.teamID = "team-1"

	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("per_page") != "50" {
			t.Errorf("pagination query = %v", q)
		}
		if q.Get("team_id") != "team-1" || q.Get("status") != "RUNNING" {
			t.Errorf("filter query = %v", q)
		}
		if labels := q["labels"]; len(labels) != 2 || labels[0] != "a" || labels[1] != "b" {
			t.Errorf("labels = %v", labels)
		}
		if q.Get("is_active") != "true" {
			t.Errorf("is_active = %q", q.Get("is_active"))
		}
		writeJSON(w, http.StatusOK, SandboxListResponse{
			Sandboxes: []Sandbox{{ID: "sb-1"}},
			Total:     1, Page: 2, PerPage: 50,
		})
	})

	resp, err := env.client.ListSandboxes(context.Background(), &ListParams{
		Status:            StatusRunning,
		Labels:            []string{"a", "b"},
		Page:              2,
		PerPage:           50,
		ExcludeTerminated: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sandboxes) != 1 || resp.Sandboxes[0].ID != "sb-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDeleteSandbox(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.mux.HandleFunc("DELETE /api/v1/sandbox/sb-1", func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})

	if err := env.client.DeleteSandbox(context.Background(), "sb-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("delete endpoint not called")
	}
}

func TestGetSandboxLogs(t *testing.T) {
	env := newTestEnv(t)
	env.mux.HandleFunc("GET /api/v1/sandbox/sb-1/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SandboxLogsResponse{Logs: "hello\n"})
	})

	logs, err := env.client.GetSandboxLogs(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs != "hello\n" {
		t.Errorf("logs = %q", logs)
	}
}

func TestCreateSSHSession(t *testing.T) {
	env := newTestEnv(t)
	env.mux.HandleFunc("POST /api/v1/sandbox/sb-1/ssh-session", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["ttl_seconds"] != float64(600) {
			t.Errorf("ttl_seconds = %v, want 600", body["ttl_seconds"])
		}
		writeJSON(w, http.StatusOK, SSHSession{SessionID: "sess-1", Host: "gw.example.com", Port: 2222})
	})

	sess, err := env.client.CreateSSHSession(context.Background(), "sb-1", 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.SessionID != "sess-1" || sess.Port != 2222 {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestCloseSSHSession(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.mux.HandleFunc("DELETE /api/v1/sandbox/sb-1/ssh-session/sess-1", func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusOK, map[string]string{"message": "closed"})
	})

	if err := env.client.CloseSSHSession(context.Background(), "sb-1", "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("close endpoint not called")
	}
}

func TestListAllExposedPorts(t *testing.T) {
	env := newTestEnv(t)
	env.mux.HandleFunc("GET /api/v1/sandbox/expose/all", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ListExposedPortsResponse{
			Exposures: []ExposedPort{{ExposureID: "exp-1", SandboxID: "sb-1", Port: 8080}},
		})
	})

	ports, err := env.client.ListAllExposedPorts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ports) != 1 || ports[0].ExposureID != "exp-1" {
		t.Errorf("unexpected exposures: %+v", ports)
	}
}

func TestExposePortValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.client.ExposePort(context.Background(), "sb-1", &ExposePortRequest{Port: 70000})
	if err == nil {
		t.Fatal("expected validation error for port out of range")
	}
	_, err = env.client.ExposePort(context.Background(), "sb-1", &ExposePortRequest{Port: 80, Protocol: "UDP"})
	if err == nil {
		t.Fatal("expected validation error for protocol")
	}
}
