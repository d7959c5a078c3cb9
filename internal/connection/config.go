// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carrega todo valor que a connection engine precisa para negociar e
// rodar uma conexão RSocket: campos de SETUP, timing de keepalive/lifetime,
// fragmentação, defaults de admissão por lease, e TTL de sessão de resume.
// É anotada com tags YAML para configuração via arquivo, mas construção
// programática (DefaultConfig + overrides de campo, sem arquivo) é
// igualmente suportada.
type Config struct {
	// IsClient seleciona a paridade de stream id (ímpar para clients) e a
	// autoria do SETUP (o client envia, o server valida).
	IsClient bool `yaml:"is_client"`

	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"`

	// MaxMissedKeepalives é o número de ticks de keepalive consecutivos sem
	// resposta antes de a engine reportar DEGRADED, adiantando-se ao timeout
	// duro de MaxLifetime.
	MaxMissedKeepalives int `yaml:"max_missed_keepalives"`

	DataMimeType     string `yaml:"data_mime_type"`
	MetadataMimeType string `yaml:"metadata_mime_type"`

	// FragmentMTU limita o tamanho re-encodado de qualquer frame outbound;
	// payloads maiores que isso são divididos em uma cadeia FOLLOWS.
	FragmentMTU int `yaml:"fragment_mtu"`

	HonorLease bool `yaml:"honor_lease"`
	// LeaseAdmissionTimeout limita quanto tempo um request originado
	// localmente pode esperar a janela de admissão abrir antes de falhar com
	// RSocketRejected.
	LeaseAdmissionTimeout time.Duration `yaml:"lease_admission_timeout"`

	// ResumeEnabled anuncia FlagResumeEnable no SETUP (client) ou aceita
	// resume (server). ResumeToken é usado como está se não vazio; caso
	// contrário um é gerado.
	ResumeEnabled bool          `yaml:"resume_enabled"`
	ResumeToken   []byte        `yaml:"-"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	// ResumeCacheCapacity limita o buffer do frame cache de resume, em
	// bytes, por conexão.
	ResumeCacheCapacity int64 `yaml:"resume_cache_capacity"`

	// OutboundQueueDepth limita o canal de entrada da goroutine de escrita;
	// um stream handler enfileirando um frame bloqueia quando ele enche,
	// implementando o contrato de backpressure de saída do protocolo.
	OutboundQueueDepth int `yaml:"outbound_queue_depth"`
}

// DefaultConfig retorna uma Config com todo campo em um default razoável;
// callers constroem programaticamente tomando esta e sobrescrevendo campos
// individuais.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval:     20 * time.Second,
		MaxLifetime:           90 * time.Second,
		MaxMissedKeepalives:   3,
		DataMimeType:          "application/octet-stream",
		MetadataMimeType:      "message/x.rsocket.composite-metadata.v0",
		FragmentMTU:           16 * 1024,
		LeaseAdmissionTimeout: 5 * time.Second,
		SessionTTL:            1 * time.Hour,
		ResumeCacheCapacity:   1 << 20, // 1MiB
		OutboundQueueDepth:    64,
	}
}

// LoadConfig lê e valida um arquivo de configuração YAML, preenchendo campos
// derivados e aplicando defaults exatamente como (*Config).Validate faz para
// uma Config construída programaticamente.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("connection: reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("connection: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("connection: validating config: %w", err)
	}
	return &cfg, nil
}

// Validate preenche campos derivados zerados com seus defaults e rejeita
// valores fora de faixa.
func (c *Config) Validate() error {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 20 * time.Second
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 90 * time.Second
	}
	if c.MaxLifetime < c.KeepaliveInterval {
		return fmt.Errorf("connection: max_lifetime (%s) must be >= keepalive_interval (%s)", c.MaxLifetime, c.KeepaliveInterval)
	}
	if c.MaxMissedKeepalives <= 0 {
		c.MaxMissedKeepalives = 3
	}
	if c.DataMimeType == "" {
		c.DataMimeType = "application/octet-stream"
	}
	if c.MetadataMimeType == "" {
		c.MetadataMimeType = "message/x.rsocket.composite-metadata.v0"
	}
	if c.FragmentMTU <= 0 {
		c.FragmentMTU = 16 * 1024
	}
	if c.LeaseAdmissionTimeout <= 0 {
		c.LeaseAdmissionTimeout = 5 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 1 * time.Hour
	}
	if c.ResumeCacheCapacity <= 0 {
		c.ResumeCacheCapacity = 1 << 20
	}
	if c.OutboundQueueDepth <= 0 {
		c.OutboundQueueDepth = 64
	}
	return nil
}
