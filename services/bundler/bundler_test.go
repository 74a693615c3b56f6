package bundler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	signer, err := newSigner(identity.String(), "")
	require.NoError(t, err)
	return signer
}

func writeArtifact(t *testing.T, dir, rel string, content []byte) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

func TestBuildWritesSignedBundle(t *testing.T) {
	artifactsDir := t.TempDir()
	writeArtifact(t, artifactsDir, "firmware/pump-v2.bin", []byte("firmware bytes"))
	writeArtifact(t, artifactsDir, "configs/pump.yaml", []byte("mode: safe\n"))

	signer := newTestSigner(t)
	output := filepath.Join(t.TempDir(), "release.tar.zst")
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	manifest, err := Build(context.Background(), BuildConfig{
		ArtifactsDir: artifactsDir,
		Release:      "2026.03",
		WrapperID:    "3f7c9a10-61db-4f02-9e27-55aa11bb22cc",
		Output:       output,
		Signer:       signer,
		Now:          func() time.Time { return now },
		Stdout:       io.Discard,
	})
	require.NoError(t, err)

	assert.Equal(t, "1", manifest.Version)
	assert.Equal(t, now, manifest.CreatedAt)
	assert.Equal(t, "2026.03", manifest.Release)
	assert.Equal(t, "3f7c9a10-61db-4f02-9e27-55aa11bb22cc", manifest.WrapperID)
	assert.NotEmpty(t, manifest.Signature)
	assert.Equal(t, signer.PublicKeyBase64(), manifest.SigningPublicKey)

	require.Len(t, manifest.Artifacts, 2)
	assert.Equal(t, "configs/pump.yaml", manifest.Artifacts[0].Path)
	assert.Equal(t, "config", manifest.Artifacts[0].Kind)
	assert.Equal(t, "firmware/pump-v2.bin", manifest.Artifacts[1].Path)
	assert.Equal(t, "firmware", manifest.Artifacts[1].Kind)
	assert.Equal(t, int64(len("firmware bytes")), manifest.Artifacts[1].Size)

	payload, err := manifest.SigningBytes()
	require.NoError(t, err)
	assert.NoError(t, signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey))

	_, err = os.Stat(output)
	assert.NoError(t, err)
}

func TestBuildRejectsEmptyArtifactsDir(t *testing.T) {
	output := filepath.Join(t.TempDir(), "empty.tar.zst")
	_, err := Build(context.Background(), BuildConfig{
		ArtifactsDir: t.TempDir(),
		Output:       output,
		Signer:       newTestSigner(t),
		Stdout:       io.Discard,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifacts")
}

func TestExtractBundleRoundTrip(t *testing.T) {
	artifactsDir := t.TempDir()
	writeArtifact(t, artifactsDir, "device.img", []byte("disk image content"))
	writeArtifact(t, artifactsDir, "docs/manual.pdf", []byte("%PDF-1.4"))

	signer := newTestSigner(t)
	output := filepath.Join(t.TempDir(), "round.tar.zst")
	built, err := Build(context.Background(), BuildConfig{
		ArtifactsDir: artifactsDir,
		Release:      "2026.03",
		Output:       output,
		Signer:       signer,
		Stdout:       io.Discard,
	})
	require.NoError(t, err)

	manifest, files, cleanup, err := extractBundle(context.Background(), output)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, built.Release, manifest.Release)
	assert.Equal(t, built.Signature, manifest.Signature)
	require.Len(t, manifest.Artifacts, 2)

	payload, err := manifest.SigningBytes()
	require.NoError(t, err)
	require.NoError(t, signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey))

	for _, art := range manifest.Artifacts {
		tempPath, ok := files[filepath.ToSlash(filepath.Join(artifactsTarPrefix, art.Path))]
		require.True(t, ok, "archive missing %s", art.Path)
		assert.NoError(t, validateArtifact(tempPath, art))
	}
}

func TestValidateArtifactDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	err := validateArtifact(path, ManifestArtifact{
		Path:   "fw.bin",
		Size:   int64(len("tampered")),
		SHA256: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha256 mismatch")
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signerA := newTestSigner(t)
	signerB := newTestSigner(t)

	payload := []byte("manifest payload")
	sig, err := signerA.Sign(payload)
	require.NoError(t, err)

	err = signerB.Verify(payload, sig, signerA.PublicKeyBase64())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected key")
}

func TestVerifyOnlySignerFromPublicKey(t *testing.T) {
	signerA := newTestSigner(t)
	payload := []byte("manifest payload")
	sig, err := signerA.Sign(payload)
	require.NoError(t, err)

	verifier, err := newSigner("", signerA.PublicKeyBase64())
	require.NoError(t, err)
	assert.NoError(t, verifier.Verify(payload, sig, ""))

	_, err = verifier.Sign(payload)
	assert.Error(t, err)
}

func TestAppendVersionPostsToWrapper(t *testing.T) {
	const wrapperID = "7b1de2f0-1111-4c38-a0a5-9e8877665544"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/wrappers/"+wrapperID+"/versions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "firmware", body["kind"])
		assert.Equal(t, "fw/pump.bin", body["name"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": map[string]any{"url": "s3://medwatch-artifacts/artifacts/abc/def"},
		})
	}))
	defer server.Close()

	location, err := appendVersion(context.Background(), server.Client(), server.URL, wrapperID, ManifestArtifact{
		Path:   "fw/pump.bin",
		Kind:   "firmware",
		Size:   12,
		SHA256: "ab",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://medwatch-artifacts/artifacts/abc/def", location)
}

func TestAppendVersionSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"wrapper not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := appendVersion(context.Background(), server.Client(), server.URL, "missing", ManifestArtifact{Path: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrapper not found")
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "valid", url: "s3://bucket/path/to/object", bucket: "bucket", key: "path/to/object"},
		{name: "missing key", url: "s3://bucket", wantErr: true},
		{name: "empty bucket", url: "s3:///key", wantErr: true},
		{name: "http url", url: "https://bucket/key", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := parseS3URL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
		})
	}
}

func TestInferKind(t *testing.T) {
	tests := map[string]string{
		"fw/pump.bin":       "firmware",
		"fw/board.hex":      "firmware",
		"images/device.img": "disk-image",
		"configs/net.yaml":  "config",
		"docs/manual.pdf":   "document",
		"export.tar.gz":     "tar.gz",
		"misc/readme":       "file",
	}

	for path, want := range tests {
		assert.Equal(t, want, inferKind(path), path)
	}
}
