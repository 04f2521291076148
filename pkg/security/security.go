// Package security maps a pass-through SecurityProfile onto the
// kgo.Opt values franz-go needs to dial an authenticated broker. The
// reader engine never interprets credential material itself; this
// package is the one place that does.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/kafkascope/kafkascope/pkg/ingest"
)

// BuildClientOpts translates cfg.Security into the kgo.Opt slice
// NewKgoSource should be dialed with. An unsupported SASL mechanism
// or unreadable certificate file is returned as an error rather than
// silently falling back to plaintext.
func BuildClientOpts(cfg ingest.KafkaConfig) ([]kgo.Opt, error) {
	var opts []kgo.Opt

	switch cfg.Security.Kind {
	case ingest.SecurityPlaintext:
		// no transport or auth options.

	case ingest.SecuritySSL:
		tlsCfg, err := buildTLSConfig(cfg.Security)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))

	case ingest.SecuritySASLPlain:
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Security.Username,
			Pass: cfg.Security.Password,
		}.AsMechanism()))

	case ingest.SecuritySASLSCRAM:
		mech, err := buildSCRAMMechanism(cfg.Security)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))

	default:
		return nil, ingest.NewConfigError("unsupported security kind %q", cfg.Security.Kind)
	}

	return opts, nil
}

func buildTLSConfig(sec ingest.SecurityProfile) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: sec.InsecureSkipVerify} //nolint:gosec // explicit opt-in only

	if sec.CABundlePath != "" {
		pem, err := os.ReadFile(sec.CABundlePath)
		if err != nil {
			return nil, ingest.NewConfigError("reading ca bundle: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ingest.NewConfigError("ca bundle %q contains no usable certificates", sec.CABundlePath)
		}
		tlsCfg.RootCAs = pool
	}

	if sec.ClientCertPath != "" || sec.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(sec.ClientCertPath, sec.ClientKeyPath)
		if err != nil {
			return nil, ingest.NewConfigError("loading client keypair: %v", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// buildSCRAMMechanism selects SHA-256 or SHA-512 SCRAM per
// sec.Mechanism; any other spelling is rejected rather than guessed.
func buildSCRAMMechanism(sec ingest.SecurityProfile) (sasl.Mechanism, error) {
	auth := scram.Auth{User: sec.Username, Pass: sec.Password}

	switch sec.Mechanism {
	case "SCRAM-SHA-256":
		return auth.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return auth.AsSha512Mechanism(), nil
	default:
		return nil, ingest.NewConfigError("unsupported SCRAM mechanism %q", sec.Mechanism)
	}
}
