package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Certificates is the fake certificate manager. Every certificate is
// issued.
type Certificates struct {
	cloud *Cloud
	mu    sync.Mutex
	ids   ids
	certs []types.CertificateSummary
}

var _ provider.CertificatesAPI = (*Certificates)(nil)

func newCertificates(c *Cloud) *Certificates {
	return &Certificates{cloud: c}
}

// AddCertificate issues a certificate and returns its ARN.
func (f *Certificates) AddCertificate(domain string, sans ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.cloud.arn("acm", "certificate/"+f.ids.new("cert"))
	f.certs = append(f.certs, types.CertificateSummary{
		CertificateArn:                  aws.String(arn),
		DomainName:                      aws.String(domain),
		SubjectAlternativeNameSummaries: append([]string{domain}, sans...),
		Status:                          types.CertificateStatusIssued,
	})
	return arn
}

func (f *Certificates) ListCertificates(_ context.Context, _ *acm.ListCertificatesInput, _ ...func(*acm.Options)) (*acm.ListCertificatesOutput, error) {
	if err := f.cloud.call("acm.ListCertificates"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &acm.ListCertificatesOutput{CertificateSummaryList: append([]types.CertificateSummary(nil), f.certs...)}, nil
}
