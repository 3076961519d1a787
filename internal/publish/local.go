package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"tonearm/internal/audio"
	"tonearm/internal/fileutil"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

// Local publishes artifacts into a directory served by the daemon.
type Local struct {
	dir     string
	baseURL string
	signer  *Signer
	now     func() time.Time
}

// NewLocal constructs a local publisher rooted at dir. Retrieval URLs are
// built as <baseURL>/files/<token>.
func NewLocal(dir, baseURL, signingKey string) (*Local, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "local storage directory required", nil)
	}
	if strings.TrimSpace(signingKey) == "" {
		signingKey = uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "create local storage directory", err)
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		signer:  NewSigner(signingKey),
		now:     time.Now,
	}, nil
}

// Store copies obj into the storage directory, replacing any previous copy.
func (l *Local) Store(ctx context.Context, obj stage.Object) (string, error) {
	if !validKey(obj.Key) {
		return "", services.Wrap(services.ErrMalformedInput, stageName, "store", fmt.Sprintf("invalid object key %q", obj.Key), nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(obj.Path); err != nil {
		return "", services.Wrap(services.ErrTransientIO, stageName, "store", "open encoded artifact", err)
	}
	if err := fileutil.CopyAtomic(obj.Path, filepath.Join(l.dir, obj.Key), 0o644); err != nil {
		return "", classifyLocal("store", err)
	}
	return obj.Key, nil
}

// IssueURL signs a download token for location valid for ttl.
func (l *Local) IssueURL(_ context.Context, location string, ttl time.Duration) (string, time.Time, error) {
	if !validKey(location) {
		return "", time.Time{}, services.Wrap(services.ErrMalformedInput, stageName, "issue url", fmt.Sprintf("invalid location %q", location), nil)
	}
	if _, err := os.Stat(filepath.Join(l.dir, location)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", time.Time{}, services.Wrap(services.ErrNotFound, stageName, "issue url", "artifact missing from storage", err)
		}
		return "", time.Time{}, services.Wrap(services.ErrTransientIO, stageName, "issue url", "stat artifact", err)
	}
	expiry := l.now().Add(ttl).UTC().Truncate(time.Second)
	token := l.signer.Sign(location, expiry)
	return l.baseURL + "/files/" + token, expiry, nil
}

// Resolve validates a download token and returns the artifact path it grants.
func (l *Local) Resolve(token string) (string, error) {
	key, err := l.signer.Verify(token)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, key), nil
}

// HealthCheck reports whether the storage directory is writable.
func (l *Local) HealthCheck(context.Context) stage.Health {
	if err := unix.Access(l.dir, unix.W_OK); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("storage directory %s not writable: %v", l.dir, err))
	}
	return stage.Healthy(stageName)
}

// ServeFile writes the artifact granted by token. Expired tokens get 410 and
// forged ones 403.
func (l *Local) ServeFile(w http.ResponseWriter, r *http.Request, token string) {
	path, err := l.Resolve(token)
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrTokenExpired) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}
	file, err := os.Open(path)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	if format, err := audio.Parse(strings.TrimPrefix(filepath.Ext(info.Name()), ".")); err == nil {
		w.Header().Set("Content-Type", format.ContentType())
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func classifyLocal(operation string, err error) error {
	if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) {
		return services.Wrap(services.ErrQuotaExceeded, stageName, operation, "storage full", err)
	}
	if errors.Is(err, os.ErrPermission) {
		return services.Wrap(services.ErrConfiguration, stageName, operation, "storage directory not writable", err)
	}
	return services.Wrap(services.ErrTransientIO, stageName, operation, "write artifact", err)
}
