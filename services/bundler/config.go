package bundler

import (
	"io"
	"net/http"
	"time"

	mws3 "medwatch/pkg/s3"
)

// BuildConfig configures bundle creation.
type BuildConfig struct {
	ArtifactsDir string
	Release      string
	WrapperID    string
	Output       string
	Signer       *Signer
	Now          func() time.Time
	Stdout       io.Writer
}

// ImportConfig configures bundle import operations. WrapperID overrides the
// wrapper recorded in the manifest when set.
type ImportConfig struct {
	BundlePath string
	APIBaseURL string
	WrapperID  string
	HTTPClient *http.Client
	S3         *mws3.Client
	Signer     *Signer
	Now        func() time.Time
	Stdout     io.Writer
}
