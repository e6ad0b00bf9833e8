package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GenerateCertificate(ctx context.Context, data CertificateData) (io.Reader, error)
}
