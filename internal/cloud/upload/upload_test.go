package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/cloud/credentials"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	internalhttp "github.com/kiwitech/pterobackup/internal/http"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/progress"
)

const archiveBody = "pretend this is a gzip stream"

// recordingReporter remembers the last position and whether the upload finished.
type recordingReporter struct {
	progress.NoOpProgress
	mu       sync.Mutex
	total    int64
	last     int64
	updates  int
	finished bool
	failed   bool
}

func (r *recordingReporter) Start(total int64, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
}

func (r *recordingReporter) Update(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = current
	r.updates++
}

func (r *recordingReporter) position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *recordingReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

func (r *recordingReporter) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-01-02_KiwiTech_SMP.tar.gz")
	if err := os.WriteFile(path, []byte(archiveBody), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeServiceAccount writes a key file whose token_uri points at tokenURL.
func writeServiceAccount(t *testing.T, tokenURL string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(map[string]string{
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email": "backup@kiwitech.iam.gserviceaccount.com",
		"token_uri":    tokenURL,
	})
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.test","token_type":"Bearer","expires_in":3599}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGCS(t *testing.T, cfg *config.Config) *GCSDestination {
	t.Helper()
	logger := logging.NewNopLogger()
	tokenClient, err := internalhttp.NewClient(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	uploadClient, err := internalhttp.NewClient(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	return NewGCSDestination(cfg, credentials.NewAuthenticator(tokenClient, logger), uploadClient, logger)
}

func TestObjectName(t *testing.T) {
	got := ObjectName("KiwiTech", config.ServerSmp, "2024-01-02_KiwiTech_SMP.tar.gz")
	if got != "KiwiTech/SMP/2024-01-02_KiwiTech_SMP.tar.gz" {
		t.Errorf("unexpected object name %q", got)
	}
	got = ObjectName("KiwiTech", config.ServerCmp, "2024-01-02_KiwiTech_CMP.tar.gz")
	if got != "KiwiTech/CMP/2024-01-02_KiwiTech_CMP.tar.gz" {
		t.Errorf("unexpected object name %q", got)
	}
}

// TestGCSDestination_Upload verifies the request line, headers and streamed body.
func TestGCSDestination_Upload(t *testing.T) {
	tokenSrv := newTokenServer(t)

	var gotPath, gotName, gotType, gotAuth, gotBody string
	var gotLength int64
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotName = r.URL.Query().Get("name")
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotLength = r.ContentLength
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		if r.URL.Query().Get("uploadType") != "media" {
			t.Errorf("expected uploadType=media, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer storage.Close()

	cfg := &config.Config{
		BucketName:      "backups",
		GCSCredentials:  writeServiceAccount(t, tokenSrv.URL),
		StorageEndpoint: storage.URL + "/",
	}
	dest := newGCS(t, cfg)
	rep := &recordingReporter{}
	dest.NewReporter = func() progress.Reporter { return rep }

	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	object := "KiwiTech/SMP/2024-01-02_KiwiTech_SMP.tar.gz"
	if err := dest.Upload(context.Background(), writeArchive(t), object); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotPath != "/b/backups/o" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotName != object {
		t.Errorf("expected name %q, got %q", object, gotName)
	}
	if gotType != constants.ArchiveContentType {
		t.Errorf("expected content type %s, got %q", constants.ArchiveContentType, gotType)
	}
	if gotAuth != "Bearer ya29.test" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotBody != archiveBody {
		t.Errorf("body mismatch: %q", gotBody)
	}
	if gotLength != int64(len(archiveBody)) {
		t.Errorf("expected Content-Length %d, got %d", len(archiveBody), gotLength)
	}
	if !rep.finished || rep.last != int64(len(archiveBody)) || rep.total != int64(len(archiveBody)) {
		t.Errorf("unexpected progress: %+v", rep)
	}
}

// TestGCSDestination_UploadStreamsLargeArchive verifies a multi-MiB archive
// goes out as a stream: the body is sent while the file is still being read
// instead of being buffered first.
func TestGCSDestination_UploadStreamsLargeArchive(t *testing.T) {
	const size = 32 << 20
	const head = 64 << 10

	path := filepath.Join(t.TempDir(), "2024-01-02_KiwiTech_SMP.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.New()
	if _, err := io.CopyN(io.MultiWriter(f, want), rand.Reader, size); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	rep := &recordingReporter{}
	tokenSrv := newTokenServer(t)

	var gotLength, gotBytes, readAtHead int64
	got := sha256.New()
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
		n, _ := io.CopyN(got, r.Body, head)
		readAtHead = rep.position()
		m, _ := io.Copy(got, r.Body)
		gotBytes = n + m
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer storage.Close()

	cfg := &config.Config{
		BucketName:      "backups",
		GCSCredentials:  writeServiceAccount(t, tokenSrv.URL),
		StorageEndpoint: storage.URL,
	}
	dest := newGCS(t, cfg)
	dest.NewReporter = func() progress.Reporter { return rep }

	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if err := dest.Upload(context.Background(), path, "KiwiTech/SMP/big.tar.gz"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotLength != size {
		t.Errorf("expected Content-Length %d, got %d", size, gotLength)
	}
	if gotBytes != size || !bytes.Equal(got.Sum(nil), want.Sum(nil)) {
		t.Errorf("body mismatch: received %d bytes", gotBytes)
	}
	if rep.updates < 2 {
		t.Errorf("expected several progress updates, got %d", rep.updates)
	}
	if readAtHead >= size {
		t.Errorf("archive was fully read before the server saw the first %d bytes", head)
	}
	if rep.last != size || !rep.finished {
		t.Errorf("unexpected final progress: last=%d finished=%v", rep.last, rep.finished)
	}
}

// TestNewUploadBody verifies the upload body stays seekable and sized, which
// is what keeps retryablehttp from reading it into memory.
func TestNewUploadBody(t *testing.T) {
	body := newUploadBody(strings.NewReader(archiveBody), int64(len(archiveBody)), nil)

	var raw interface{} = body
	if _, ok := raw.(io.ReadSeeker); !ok {
		t.Fatal("upload body is not an io.ReadSeeker")
	}
	if _, ok := raw.(retryablehttp.LenReader); !ok {
		t.Fatal("upload body does not report its length")
	}
	if body.Len() != len(archiveBody) {
		t.Errorf("expected Len %d, got %d", len(archiveBody), body.Len())
	}

	req, err := retryablehttp.NewRequestWithContext(context.Background(), "POST", "http://example.invalid/", body)
	if err != nil {
		t.Fatal(err)
	}
	if req.ContentLength != int64(len(archiveBody)) {
		t.Errorf("expected request Content-Length %d, got %d", len(archiveBody), req.ContentLength)
	}
}

// TestGCSDestination_UploadRejected verifies a non-2xx status is a network error with the body excerpt.
func TestGCSDestination_UploadRejected(t *testing.T) {
	tokenSrv := newTokenServer(t)
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))
	defer storage.Close()

	cfg := &config.Config{
		BucketName:      "backups",
		GCSCredentials:  writeServiceAccount(t, tokenSrv.URL),
		StorageEndpoint: storage.URL,
	}
	dest := newGCS(t, cfg)
	rep := &recordingReporter{}
	dest.NewReporter = func() progress.Reporter { return rep }

	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	archive := writeArchive(t)
	err := dest.Upload(context.Background(), archive, "KiwiTech/SMP/x.tar.gz")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "backend exploded") {
		t.Errorf("expected status and body in message, got %v", err)
	}
	if !rep.failed || rep.finished {
		t.Errorf("expected reporter error state, got %+v", rep)
	}
	if _, statErr := os.Stat(archive); statErr != nil {
		t.Errorf("archive should be untouched: %v", statErr)
	}
}

// TestGCSDestination_UploadWithoutAuthorize verifies nothing is sent before a token exists.
func TestGCSDestination_UploadWithoutAuthorize(t *testing.T) {
	dest := newGCS(t, &config.Config{BucketName: "b", StorageEndpoint: "http://127.0.0.1:1"})
	err := dest.Upload(context.Background(), writeArchive(t), "x")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

// TestGCSDestination_MissingArchive verifies a missing local file is an IO error.
func TestGCSDestination_MissingArchive(t *testing.T) {
	tokenSrv := newTokenServer(t)
	cfg := &config.Config{
		BucketName:      "backups",
		GCSCredentials:  writeServiceAccount(t, tokenSrv.URL),
		StorageEndpoint: "http://127.0.0.1:1",
	}
	dest := newGCS(t, cfg)
	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	err := dest.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.tar.gz"), "x")
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestGCSDestination_UploadURL(t *testing.T) {
	dest := newGCS(t, &config.Config{BucketName: "backups"})
	got := dest.UploadURL("KiwiTech/SMP/a b.tar.gz")
	want := constants.GCSUploadBaseURL + "/b/backups/o?uploadType=media&name=KiwiTech%2FSMP%2Fa+b.tar.gz"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

// isolateAWS keeps the developer's AWS profile out of the test.
func isolateAWS(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

// TestS3Destination_Upload verifies a path-style PutObject with the archive as body.
func TestS3Destination_Upload(t *testing.T) {
	isolateAWS(t)

	var gotMethod, gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{
		BucketName: "backups",
		S3: &config.S3Config{
			Region:          "us-east-1",
			Endpoint:        srv.URL,
			AccessKeyID:     "AKIATEST",
			SecretAccessKey: "secret",
		},
	}
	dest, err := NewS3Destination(context.Background(), cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewS3Destination failed: %v", err)
	}
	rep := &recordingReporter{}
	dest.NewReporter = func() progress.Reporter { return rep }

	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if err := dest.Upload(context.Background(), writeArchive(t), "KiwiTech/SMP/x.tar.gz"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/backups/KiwiTech/SMP/x.tar.gz" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotType != constants.ArchiveContentType {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotBody != archiveBody {
		t.Errorf("body mismatch: %q", gotBody)
	}
	if !rep.finished {
		t.Error("expected progress to finish")
	}
}

// TestS3Destination_UploadRejected verifies an S3 error response is a network error.
func TestS3Destination_UploadRejected(t *testing.T) {
	isolateAWS(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		BucketName: "backups",
		S3:         &config.S3Config{Region: "us-east-1", Endpoint: srv.URL, AccessKeyID: "AKIATEST", SecretAccessKey: "secret"},
	}
	dest, err := NewS3Destination(context.Background(), cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewS3Destination failed: %v", err)
	}
	dest.NewReporter = func() progress.Reporter { return progress.NewNoOpProgress() }

	err = dest.Upload(context.Background(), writeArchive(t), "k")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

// TestAzureDestination_Upload verifies a single-shot block blob upload through the SAS URL.
func TestAzureDestination_Upload(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotSig, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			gotSig = r.URL.Query().Get("sig")
			gotType = r.Header.Get("x-ms-blob-content-type")
			gotBody = string(data)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := &config.Config{
		BucketName: "backups",
		Azure:      &config.AzureConfig{ServiceURL: srv.URL + "/?sv=2023-11-03&sig=abc"},
	}
	dest, err := NewAzureDestination(cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewAzureDestination failed: %v", err)
	}
	rep := &recordingReporter{}
	dest.NewReporter = func() progress.Reporter { return rep }

	if err := dest.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if err := dest.Upload(context.Background(), writeArchive(t), "KiwiTech/SMP/x.tar.gz"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/backups/KiwiTech/SMP/x.tar.gz" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotSig != "abc" {
		t.Errorf("expected SAS signature to be forwarded, got %q", gotSig)
	}
	if gotType != constants.ArchiveContentType {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotBody != archiveBody {
		t.Errorf("body mismatch: %q", gotBody)
	}
	if !rep.finished {
		t.Error("expected progress to finish")
	}
}

func TestAzureDestination_Authorize(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://acct.blob.core.windows.net/?sv=2023&sig=abc", false},
		{"https://acct.blob.core.windows.net/", true},
		{"https://acct.blob.core.windows.net/?sv=2023", true},
	}
	for _, tt := range tests {
		d := &AzureDestination{ServiceURL: tt.url}
		err := d.Authorize(context.Background())
		if tt.wantErr && !errors.Is(err, apperr.ErrConfig) {
			t.Errorf("%s: expected ErrConfig, got %v", tt.url, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tt.url, err)
		}
	}
}

func TestNewDestination(t *testing.T) {
	isolateAWS(t)

	tests := []struct {
		backend string
		want    string
	}{
		{config.BackendGCS, "gcs"},
		{config.BackendAzure, "azure"},
		{config.BackendS3, "s3"},
	}
	for _, tt := range tests {
		cfg := &config.Config{
			Backend:    tt.backend,
			BucketName: "backups",
			S3:         &config.S3Config{Region: "eu-west-1"},
			Azure:      &config.AzureConfig{ServiceURL: "https://acct.blob.core.windows.net/?sig=x"},
		}
		rep := &recordingReporter{}
		dest, err := NewDestination(context.Background(), cfg, nil, func() progress.Reporter { return rep })
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.backend, err)
		}
		if dest.Name() != tt.want {
			t.Errorf("expected %s, got %s", tt.want, dest.Name())
		}

		var factory ReporterFactory
		switch d := dest.(type) {
		case *GCSDestination:
			factory = d.NewReporter
		case *S3Destination:
			factory = d.NewReporter
		case *AzureDestination:
			factory = d.NewReporter
		}
		if factory == nil || factory() != progress.Reporter(rep) {
			t.Errorf("%s: reporter factory not passed through", tt.backend)
		}
	}

	_, err := NewDestination(context.Background(), &config.Config{Backend: "ftp"}, nil, nil)
	if !errors.Is(err, apperr.ErrConfig) {
		t.Errorf("expected ErrConfig for unknown backend, got %v", err)
	}
}
