package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FallbackProvisioner wraps a real provisioner for demo deployments.
// When the vendor fails it mints a clearly marked demo credential instead of
// returning the error, and treats failed limit updates as applied.
type FallbackProvisioner struct {
	primary Provisioner
	logger  *logrus.Entry
	now     func() time.Time
}

// NewFallbackProvisioner wraps primary
func NewFallbackProvisioner(primary Provisioner, logger *logrus.Entry) *FallbackProvisioner {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FallbackProvisioner{primary: primary, logger: logger, now: time.Now}
}

func (f *FallbackProvisioner) CreateCredential(ctx context.Context, req CredentialRequest) (*Credential, error) {
	cred, err := f.primary.CreateCredential(ctx, req)
	if err == nil {
		return cred, nil
	}

	f.logger.WithError(err).WithField("name", req.Name).Warn("Vendor key creation failed, issuing demo credential")

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return &Credential{
		ID:        "demo_" + uuid.NewString(),
		Secret:    "sk-or-v1-" + hex.EncodeToString(suffix) + "-demo",
		Name:      req.Name,
		LimitUSD:  req.LimitUSD,
		CreatedAt: f.now(),
		Demo:      true,
	}, nil
}

func (f *FallbackProvisioner) UpdateCredentialLimit(ctx context.Context, credentialID string, limitUSD decimal.Decimal) error {
	if err := f.primary.UpdateCredentialLimit(ctx, credentialID, limitUSD); err != nil {
		f.logger.WithError(err).WithField("credential_id", credentialID).Warn("Vendor limit update failed, keeping local limit only")
	}
	return nil
}
