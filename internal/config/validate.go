package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/idna"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report toml key names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints first, then the values that need more
// than a tag: the peer key, the domain and the hostnames.
func (c *Config) Validate() error {
	var msgs []string

	if err := engine().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid validation error: %w", err)
		}
		for _, fe := range verrs {
			msgs = append(msgs, formatError(fe))
		}
	}
	msgs = append(msgs, checkDurations(c)...)

	if c.Core.PeerPubkey != "" {
		if _, err := wgtypes.ParseKey(c.Core.PeerPubkey); err != nil {
			msgs = append(msgs, "config.peer_pubkey must be a base64 WireGuard public key")
		}
	}
	if c.Core.Domain != "" {
		if _, err := idna.Lookup.ToASCII(c.Core.Domain); err != nil {
			msgs = append(msgs, fmt.Sprintf("config.domain is not a valid domain name: %v", err))
		}
	}
	if c.Core.PeerHostname != "" && !validHost(c.Core.PeerHostname) {
		msgs = append(msgs, "config.peer_hostname must be a hostname or IP address")
	}
	if ns := c.DNS.PropagationNameserver; ns != "" {
		host := ns
		if h, _, err := net.SplitHostPort(ns); err == nil {
			host = h
		}
		if !validHost(host) {
			msgs = append(msgs, "dns.propagation_nameserver must be a host, IP address or host:port")
		}
	}
	if h := c.Core.OwnHostname; h != "" && h != ApexHostname {
		if strings.Contains(h, ".") && strings.HasSuffix(h, "."+c.Core.Domain) {
			msgs = append(msgs, "config.own_hostname must be relative to config.domain")
		} else if _, err := idna.Lookup.ToASCII(h); err != nil {
			msgs = append(msgs, fmt.Sprintf("config.own_hostname is not a valid record name: %v", err))
		}
	}

	if len(msgs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func validHost(h string) bool {
	if net.ParseIP(h) != nil {
		return true
	}
	_, err := idna.Lookup.ToASCII(h)
	return err == nil
}

func formatError(err validator.FieldError) string {
	field := strings.TrimPrefix(err.Namespace(), "Config.")
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, err.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed on tag %s", field, err.Tag())
	}
}
