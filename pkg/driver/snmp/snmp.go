/*
 * Copyright 2026 FieldOps Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package snmp implements an SNMP protocol driver. Registry rows carry an
// "OID" column mapping each point to the object it reads or writes.
package snmp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/fieldops/driverd/pkg/driver"
	"github.com/fieldops/driverd/pkg/models"
)

// DriverType is the driver_type string the SNMP factory answers to.
const DriverType = "snmp"

// RegOID is the registry column naming a point's object identifier.
const RegOID = "OID"

const (
	defaultPort      = 161
	defaultCommunity = "public"
	defaultTimeout   = 5 * time.Second
	defaultRetries   = 1
)

// Config is the SNMP driver's driver_config payload.
type Config struct {
	Target    string          `json:"target"`
	Port      uint16          `json:"port,omitempty"`
	Community string          `json:"community,omitempty"`
	Version   string          `json:"version,omitempty"`
	Timeout   models.Duration `json:"timeout,omitempty"`
	Retries   int             `json:"retries,omitempty"`

	// SNMPv3 credentials.
	Username     string `json:"username,omitempty"`
	AuthProtocol string `json:"auth_protocol,omitempty"`
	AuthPassword string `json:"auth_password,omitempty"`
	PrivProtocol string `json:"priv_protocol,omitempty"`
	PrivPassword string `json:"priv_password,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}

	if c.Community == "" {
		c.Community = defaultCommunity
	}

	if c.Version == "" {
		c.Version = "2c"
	}

	if c.Timeout == 0 {
		c.Timeout = models.Duration(defaultTimeout)
	}

	if c.Retries == 0 {
		c.Retries = defaultRetries
	}
}

type point struct {
	oid      string
	typ      string
	writable bool
	starting interface{}
}

// Interface is one SNMP endpoint connection shared by every device that
// targets it.
type Interface struct {
	mu     sync.Mutex
	client *gosnmp.GoSNMP
	points map[string]*point
}

// Factory builds SNMP Interfaces.
type Factory struct{}

// NewFactory returns the SNMP driver factory.
func NewFactory() *Factory { return &Factory{} }

// Type implements driver.Factory.
func (f *Factory) Type() string { return DriverType }

// UniqueRemoteID implements driver.Factory. Devices addressing the same
// target, port and community share one connection.
func (f *Factory) UniqueRemoteID(_ string, config json.RawMessage) (string, error) {
	cfg, err := parseConfig(config)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("snmp://%s:%d/%s", cfg.Target, cfg.Port, cfg.Community), nil
}

// New implements driver.Factory.
func (f *Factory) New(_ context.Context, config json.RawMessage) (driver.Interface, error) {
	cfg, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", driver.ErrProtocol, cfg.Target, err)
	}

	return &Interface{
		client: client,
		points: make(map[string]*point),
	}, nil
}

func parseConfig(config json.RawMessage) (*Config, error) {
	var cfg Config

	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parsing snmp driver config: %w", err)
	}

	if cfg.Target == "" {
		return nil, fmt.Errorf("%w: snmp driver config requires a target", models.ErrInvalidConfig)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func newClient(cfg *Config) (*gosnmp.GoSNMP, error) {
	client := &gosnmp.GoSNMP{
		Target:             cfg.Target,
		Port:               cfg.Port,
		Timeout:            cfg.Timeout.AsDuration(),
		Retries:            cfg.Retries,
		MaxOids:            gosnmp.MaxOids,
		ExponentialTimeout: true,
	}

	switch strings.ToLower(cfg.Version) {
	case "1":
		client.Version = gosnmp.Version1
		client.Community = cfg.Community
	case "2c", "2":
		client.Version = gosnmp.Version2c
		client.Community = cfg.Community
	case "3":
		client.Version = gosnmp.Version3
		client.MsgFlags = gosnmp.AuthPriv
		client.SecurityModel = gosnmp.UserSecurityModel
		client.SecurityParameters = securityParameters(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported snmp version %q", models.ErrInvalidConfig, cfg.Version)
	}

	return client, nil
}

func securityParameters(cfg *Config) *gosnmp.UsmSecurityParameters {
	usm := &gosnmp.UsmSecurityParameters{UserName: cfg.Username}

	switch strings.ToUpper(cfg.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	}

	usm.AuthenticationPassphrase = cfg.AuthPassword

	switch strings.ToUpper(cfg.PrivProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	}

	usm.PrivacyPassphrase = cfg.PrivPassword

	return usm
}

// Configure implements driver.Interface.
func (i *Interface) Configure(_ context.Context, deviceTopic string, _ json.RawMessage, registry []models.RegistryRow) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, row := range registry {
		name := row.PointName()
		if name == "" {
			continue
		}

		oid, _ := row[RegOID].(string)
		if oid == "" {
			return fmt.Errorf("%w: point %q has no OID", models.ErrInvalidConfig, name)
		}

		i.points[deviceTopic+"/"+name] = &point{
			oid:      oid,
			typ:      row.Type(),
			writable: row.Writable(),
			starting: row.StartingValue(),
		}
	}

	return nil
}

// GetMultiplePoints implements driver.Interface. Reads are chunked at the
// protocol's per-PDU OID limit.
func (i *Interface) GetMultiplePoints(_ context.Context, ids []string) (map[string]interface{}, map[string]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	values := make(map[string]interface{}, len(ids))
	errs := map[string]string{}

	known := make([]string, 0, len(ids))
	oids := make([]string, 0, len(ids))

	for _, id := range ids {
		p, ok := i.points[id]
		if !ok {
			errs[id] = fmt.Sprintf("unknown point %q", id)
			continue
		}

		known = append(known, id)
		oids = append(oids, p.oid)
	}

	for start := 0; start < len(oids); start += i.client.MaxOids {
		end := start + i.client.MaxOids
		if end > len(oids) {
			end = len(oids)
		}

		packet, err := i.client.Get(oids[start:end])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: get against %s: %w", driver.ErrProtocol, i.client.Target, err)
		}

		for offset, pdu := range packet.Variables {
			id := known[start+offset]

			value, convErr := convertValue(pdu)
			if convErr != nil {
				errs[id] = convErr.Error()
				continue
			}

			values[id] = value
		}
	}

	return values, errs, nil
}

// SetMultiplePoints implements driver.Interface.
func (i *Interface) SetMultiplePoints(_ context.Context, pairs map[string]interface{}) (map[string]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	errs := map[string]string{}

	for id, value := range pairs {
		if err := i.setLocked(id, value); err != nil {
			errs[id] = err.Error()
		}
	}

	return errs, nil
}

func (i *Interface) setLocked(id string, value interface{}) error {
	p, ok := i.points[id]
	if !ok {
		return fmt.Errorf("unknown point %q", id)
	}

	if !p.writable {
		return fmt.Errorf("point %q is not writable", id)
	}

	pdu, err := buildPDU(p, value)
	if err != nil {
		return err
	}

	if _, err := i.client.Set([]gosnmp.SnmpPDU{pdu}); err != nil {
		return fmt.Errorf("set %s: %w", p.oid, err)
	}

	return nil
}

// RevertPoint implements driver.Interface by writing the starting value.
func (i *Interface) RevertPoint(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	p, ok := i.points[id]
	if !ok {
		return fmt.Errorf("unknown point %q", id)
	}

	if p.starting == nil {
		return nil
	}

	return i.setLocked(id, p.starting)
}

// RevertAll implements driver.Interface.
func (i *Interface) RevertAll(ctx context.Context) error {
	i.mu.Lock()
	ids := make([]string, 0, len(i.points))

	for id, p := range i.points {
		if p.writable && p.starting != nil {
			ids = append(ids, id)
		}
	}
	i.mu.Unlock()

	for _, id := range ids {
		if err := i.RevertPoint(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// ScrapeAll implements driver.Interface.
func (i *Interface) ScrapeAll(ctx context.Context) (map[string]interface{}, error) {
	i.mu.Lock()
	ids := make([]string, 0, len(i.points))

	for id := range i.points {
		ids = append(ids, id)
	}
	i.mu.Unlock()

	values, _, err := i.GetMultiplePoints(ctx, ids)

	return values, err
}

// Close implements driver.Interface.
func (i *Interface) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.client.Conn != nil {
		return i.client.Conn.Close()
	}

	return nil
}

func buildPDU(p *point, value interface{}) (gosnmp.SnmpPDU, error) {
	switch strings.ToLower(p.typ) {
	case "int", "integer":
		n, ok := asInt(value)
		if !ok {
			return gosnmp.SnmpPDU{}, fmt.Errorf("point %s expects an integer, got %T", p.oid, value)
		}

		return gosnmp.SnmpPDU{Name: p.oid, Type: gosnmp.Integer, Value: n}, nil
	case "string", "octetstring", "":
		return gosnmp.SnmpPDU{Name: p.oid, Type: gosnmp.OctetString, Value: fmt.Sprint(value)}, nil
	default:
		return gosnmp.SnmpPDU{}, fmt.Errorf("unsupported point type %q for %s", p.typ, p.oid)
	}
}

func asInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case bool:
		if v {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

func convertValue(pdu gosnmp.SnmpPDU) (interface{}, error) {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b), nil
		}

		return pdu.Value, nil
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).Int64(), nil
	case gosnmp.IPAddress, gosnmp.ObjectIdentifier:
		return fmt.Sprint(pdu.Value), nil
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return nil, fmt.Errorf("no such object %s", pdu.Name)
	default:
		return pdu.Value, nil
	}
}
