package server

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/broker"
	"github.com/voltaudit/voltaudit/pkg/config"
	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/ratelimit"
	"github.com/voltaudit/voltaudit/pkg/storage"
)

// memoryGateway is an in-memory object store for handler tests.
type memoryGateway struct {
	objects map[string][]byte
}

func newMemoryGateway() *memoryGateway {
	return &memoryGateway{objects: map[string][]byte{}}
}

func (g *memoryGateway) Put(_ context.Context, key string, content io.Reader, _ int64) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	g.objects[key] = data
	return nil
}

func (g *memoryGateway) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := g.objects[key]
	if !ok {
		return nil, models.E(models.KindExternal, "TASK_502", "object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type testHarness struct {
	server  *Server
	mock    sqlmock.Sqlmock
	mr      *miniredis.Miniredis
	redis   *goredis.Client
	db      *sqlx.DB
	gateway *memoryGateway
	userID  uuid.UUID
	token   string
}

func newHarness(rateCap int) *testHarness {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	Expect(err).NotTo(HaveOccurred())
	db := sqlx.NewDb(raw, "sqlmock")

	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		JWTExpiry:          time.Hour,
		ListenPort:         8080,
		CORSOrigins:        []string{"http://localhost:3000"},
		RateLimitEnabled:   true,
		RateLimitPerMinute: rateCap,
		DefaultProfile:     "NETA",
	}

	gateway := newMemoryGateway()
	store := storage.NewStore(db, logr.Discard())
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	limiter := ratelimit.New(redisClient, cfg.RateLimitPerMinute, cfg.RateLimitEnabled, logr.Discard())
	queue := broker.New(redisClient, logr.Discard())

	userID := uuid.New()
	token, err := tokens.Issue(userID, "tech@example.com")
	Expect(err).NotTo(HaveOccurred())

	return &testHarness{
		server:  New(cfg, store, gateway, queue, tokens, limiter, logr.Discard()),
		mock:    mock,
		mr:      mr,
		redis:   redisClient,
		db:      db,
		gateway: gateway,
		userID:  userID,
		token:   token,
	}
}

func (h *testHarness) close() {
	Expect(h.mock.ExpectationsWereMet()).To(Succeed())
	_ = h.db.Close()
	_ = h.redis.Close()
	h.mr.Close()
}

func (h *testHarness) do(method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) taskRow(id uuid.UUID, owner uuid.UUID, status models.TaskStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "user_id", "filename", "object_key", "size_bytes",
		"status", "error_message", "created_at", "updated_at",
	}).AddRow(id.String(), owner.String(), "report.pdf", id.String()+"/report.pdf",
		int64(4096), string(status), nil, now, now)
}

// argContains matches any string argument containing the given substring.
type argContains string

func (m argContains) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, string(m))
}

var _ = Describe("Error responses", func() {
	It("renders the uniform error body", func() {
		rec := httptest.NewRecorder()
		writeError(rec, models.E(models.KindInvalidInput, "VALD_400", "invalid status_filter"))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["error"]).To(Equal(string(models.KindInvalidInput)))
		Expect(body["message"]).To(Equal("invalid status_filter"))
		Expect(body["error_code"]).To(Equal("VALD_400"))
		Expect(body["timestamp"]).NotTo(BeEmpty())
	})

	It("maps oversize uploads to 413", func() {
		rec := httptest.NewRecorder()
		writeError(rec, models.E(models.KindInvalidInput, "UPLD_002", "file exceeds 50 MiB limit"))
		Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
	})

	It("masks internal error details", func() {
		rec := httptest.NewRecorder()
		writeError(rec, models.E(models.KindInternal, "TASK_500", "pq: connection refused on 10.0.0.4"))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["message"]).To(Equal("internal server error"))
	})

	DescribeTable("status by error kind",
		func(kind models.ErrorKind, expected int) {
			Expect(statusForKind(kind)).To(Equal(expected))
		},
		Entry("invalid input", models.KindInvalidInput, http.StatusBadRequest),
		Entry("invalid state", models.KindInvalidState, http.StatusBadRequest),
		Entry("authentication", models.KindAuthentication, http.StatusUnauthorized),
		Entry("authorization", models.KindAuthorization, http.StatusForbidden),
		Entry("not found", models.KindNotFound, http.StatusNotFound),
		Entry("unprocessable", models.KindUnprocessable, http.StatusUnprocessableEntity),
		Entry("rate limited", models.KindRateLimited, http.StatusTooManyRequests),
		Entry("external", models.KindExternal, http.StatusBadGateway),
		Entry("internal", models.KindInternal, http.StatusInternalServerError),
	)
})

var _ = Describe("HTTP API", func() {
	var h *testHarness

	BeforeEach(func() {
		h = newHarness(100)
	})

	AfterEach(func() {
		h.close()
	})

	Describe("health", func() {
		It("answers without authentication", func() {
			rec := h.do(http.MethodGet, "/api/health", "", false)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"ok"`))
		})
	})

	Describe("authentication boundary", func() {
		It("rejects task access without a token", func() {
			rec := h.do(http.MethodGet, "/api/tasks/"+uuid.NewString(), "", false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring("AUTH_001"))
		})

		It("rejects registration with an invalid email", func() {
			rec := h.do(http.MethodPost, "/api/auth/register",
				`{"email": "not-an-address", "password": "longenough1"}`, false)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("AUTH_400"))
		})

		It("answers unknown users and wrong passwords identically", func() {
			h.mock.ExpectQuery(`SELECT .+ FROM users WHERE email`).
				WillReturnRows(sqlmock.NewRows([]string{"id"}))

			rec := h.do(http.MethodPost, "/api/auth/login",
				`{"email": "nobody@example.com", "password": "whatever12"}`, false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring("invalid credentials"))
		})
	})

	Describe("upload", func() {
		multipartUpload := func(filename string, content []byte) *http.Request {
			var buf bytes.Buffer
			w := multipart.NewWriter(&buf)
			part, err := w.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(content)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())

			req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
			req.Header.Set("Content-Type", w.FormDataContentType())
			req.Header.Set("Authorization", "Bearer "+h.token)
			return req
		}

		It("answers 400, not 413, for a malformed multipart body", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/upload",
				strings.NewReader("this is not a multipart payload"))
			req.Header.Set("Content-Type", "multipart/form-data; boundary=frontier")
			req.Header.Set("Authorization", "Bearer "+h.token)

			rec := httptest.NewRecorder()
			h.server.Router().ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("UPLD_400"))
		})

		It("fails the task with the broker's error reason when enqueueing breaks", func() {
			h.mock.ExpectExec(`INSERT INTO tasks`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			h.mock.ExpectExec(`UPDATE tasks SET status .+ AND status NOT IN`).
				WithArgs(string(models.TaskFailed), argContains("job enqueue failed"),
					sqlmock.AnyArg(), sqlmock.AnyArg(),
					string(models.TaskCompleted), string(models.TaskFailed)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			h.mr.Close() // the broker's Redis is gone
			req := multipartUpload("report.pdf", []byte("%PDF-1.4\nfake body"))
			rec := httptest.NewRecorder()
			h.server.Router().ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(rec.Body.String()).To(ContainSubstring("TASK_503"))
		})
	})

	Describe("task status", func() {
		It("returns the caller's task", func() {
			taskID := uuid.New()
			h.mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id`).
				WillReturnRows(h.taskRow(taskID, h.userID, models.TaskQueued))

			rec := h.do(http.MethodGet, "/api/tasks/"+taskID.String(), "", true)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["task_id"]).To(Equal(taskID.String()))
			Expect(body["status"]).To(Equal("QUEUED"))
		})

		It("hides foreign tasks behind 403, not 404", func() {
			taskID := uuid.New()
			h.mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id`).
				WillReturnRows(h.taskRow(taskID, uuid.New(), models.TaskQueued))

			rec := h.do(http.MethodGet, "/api/tasks/"+taskID.String(), "", true)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(rec.Body.String()).To(ContainSubstring("TASK_403"))
		})

		It("treats an unparseable id as not found", func() {
			rec := h.do(http.MethodGet, "/api/tasks/not-a-uuid", "", true)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(ContainSubstring("TASK_404"))
		})
	})

	Describe("task result", func() {
		It("answers 202 while the task is still in flight", func() {
			taskID := uuid.New()
			h.mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id`).
				WillReturnRows(h.taskRow(taskID, h.userID, models.TaskProcessing))

			rec := h.do(http.MethodGet, "/api/tasks/"+taskID.String()+"/result", "", true)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})
	})

	Describe("listing filters", func() {
		It("rejects an unknown status_filter", func() {
			rec := h.do(http.MethodGet, "/api/analyses?status_filter=MAYBE", "", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("VALD_400"))
		})

		It("rejects an unparseable date_from", func() {
			rec := h.do(http.MethodGet, "/api/analyses?date_from=yesterday", "", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("review", func() {
		It("rejects a too-short rejection reason before touching storage", func() {
			rec := h.do(http.MethodPut, "/api/analyses/"+uuid.NewString()+"/reject",
				`{"reason": "bad"}`, true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("between 10 and 1000"))
		})

		It("counts the rejection reason in characters, not bytes", func() {
			// Five runes, ten bytes: under the minimum either way it is read,
			// but a byte count would let it through.
			rec := h.do(http.MethodPut, "/api/analyses/"+uuid.NewString()+"/reject",
				`{"reason": "áéíóú"}`, true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("between 10 and 1000"))
		})

		It("refuses review while the task has not completed", func() {
			analysisID := uuid.New()
			taskID := uuid.New()
			now := time.Now().UTC()

			h.mock.ExpectQuery(`SELECT t.user_id FROM analyses a JOIN tasks t`).
				WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(h.userID.String()))
			h.mock.ExpectQuery(`SELECT a\.id, .+ FROM analyses a WHERE a\.id`).
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "task_id", "test_type", "equipment_type", "equipment_tag",
					"compliance_score", "confidence", "verdict", "rejection_reason",
					"extraction_data", "validation_data", "created_at", "updated_at",
				}).AddRow(analysisID.String(), taskID.String(), "grounding", "PANEL", "PNL-DH2-01",
					80.0, 0.91, nil, nil, []byte(`{}`), []byte(`{}`), now, now))
			h.mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id`).
				WillReturnRows(h.taskRow(taskID, h.userID, models.TaskProcessing))

			rec := h.do(http.MethodPut, "/api/analyses/"+analysisID.String()+"/approve", "", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("VALD_409"))
		})
	})
})

var _ = Describe("Rate limiting", func() {
	It("refuses the request past the cap with budget headers", func() {
		h := newHarness(1)
		defer h.close()

		first := h.do(http.MethodPost, "/api/auth/register", `not json`, false)
		Expect(first.Code).To(Equal(http.StatusBadRequest))
		Expect(first.Header().Get("X-RateLimit-Limit")).To(Equal("1"))
		Expect(first.Header().Get("X-RateLimit-Remaining")).To(Equal("0"))

		second := h.do(http.MethodPost, "/api/auth/register", `not json`, false)
		Expect(second.Code).To(Equal(http.StatusTooManyRequests))
		Expect(second.Body.String()).To(ContainSubstring("TASK_429"))
		Expect(second.Header().Get("X-RateLimit-Reset")).NotTo(BeEmpty())
	})
})
