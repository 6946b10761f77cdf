package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"time"
	"unicode"

	"procurement-recon/internal/core"

	"github.com/google/uuid"
)

type contextKey string

const requestInfoKey contextKey = "request_info"

// maxActorLen bounds the X-Actor value recorded as created_by and in document events.
const maxActorLen = 64

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9\-]{1,64}$`)

// requestInfo is shared by the middleware chain. Inner middleware fills it in and Logger
// reads it once the request is done.
type requestInfo struct {
	id    string
	actor string
}

func infoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

func requestIDFromContext(ctx context.Context) string {
	if info := infoFromContext(ctx); info != nil {
		return info.id
	}
	return ""
}

// actorFromContext returns the caller recorded by Actor, or "" to let the service apply
// its default actor.
func actorFromContext(ctx context.Context) string {
	if info := infoFromContext(ctx); info != nil {
		return info.actor
	}
	return ""
}

// RequestID tags each request with an X-Request-ID, echoing a caller-supplied one only
// when it is a short alphanumeric/hyphen string.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestInfoKey, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Actor resolves the X-Actor header into the request context. Identity is established
// upstream; this only rejects values that cannot be stored on a document.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-Actor"))
		if !validActor(actor) {
			writeError(w, r, "invalid X-Actor header", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		info := infoFromContext(r.Context())
		if info == nil {
			info = &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey, info))
		}
		info.actor = actor
		next.ServeHTTP(w, r)
	})
}

func validActor(s string) bool {
	if len(s) > maxActorLen {
		return false
	}
	for _, c := range s {
		if !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}

// Logger logs one line per request with its status, size, duration, request ID and actor.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		actor, id := "-", "-"
		if info := infoFromContext(r.Context()); info != nil {
			id = info.id
			if info.actor != "" {
				actor = info.actor
			}
		}
		log.Printf("%s %s %d %dB %s req=%s actor=%s", r.Method, r.URL.Path, rec.status, rec.bytes, time.Since(start), id, actor)
	})
}

// Recoverer turns a panic into HTTP 500. The lifecycle panics with *core.InvariantViolation
// after rolling back, so that case is logged with the ledger detail.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if err, ok := rv.(error); ok {
				var iv *core.InvariantViolation
				if errors.As(err, &iv) {
					log.Printf("LEDGER INVARIANT VIOLATED: %s %s req=%s actor=%s: %s",
						r.Method, r.URL.Path, requestIDFromContext(r.Context()), actorFromContext(r.Context()), iv.Detail)
					writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
					return
				}
			}
			log.Printf("panic: %s %s req=%s: %v\n%s", r.Method, r.URL.Path, requestIDFromContext(r.Context()), rv, debug.Stack())
			writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS answers browsers from the comma-separated ALLOWED_ORIGINS list; an empty list
// disables it. Retry-After is exposed so clients can back off on BUSY responses.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	origins := splitAndTrim(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(origins, origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor, X-Request-ID")
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestBodyLimit caps request bodies at maxBytes; decodeJSON reports overruns as 413.
func RequestBodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
