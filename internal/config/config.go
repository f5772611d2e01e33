// Package config loads the settings shared by estouctl and estoud.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/snapshot"
)

type KDFConfig struct {
	Algo       string `yaml:"algo"`
	Memory     uint32 `yaml:"memory"` // KiB, argon2id
	Time       uint32 `yaml:"time"`
	Threads    uint8  `yaml:"threads"`
	Iterations int    `yaml:"iterations"` // pbkdf2
}

type SignatureConfig struct {
	Algo    string `yaml:"algo"`
	RSABits int    `yaml:"rsa_bits"`
}

type NotifyConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Rate    float64 `yaml:"rate"` // per second
	Burst   int     `yaml:"burst"`
}

type ArchiveConfig struct {
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	Reports    string `yaml:"reports"`
}

// Config must stay the same for the life of a database: the KDF and
// cipher settings are not recorded next to it.
type Config struct {
	Directory string          `yaml:"directory"`
	Interval  time.Duration   `yaml:"interval"`
	KDF       KDFConfig       `yaml:"kdf"`
	Cipher    string          `yaml:"cipher"`
	Signature SignatureConfig `yaml:"signature"`
	Exclude   []string        `yaml:"exclude"`
	Notify    NotifyConfig    `yaml:"notify"`
	Archive   ArchiveConfig   `yaml:"archive"`
	LogFile   string          `yaml:"log_file"`
	// MetricsFile, when set, receives Prometheus metrics after every pass.
	MetricsFile string `yaml:"metrics_file"`
}

const (
	CipherAESCBC   = "aes-256-cbc"
	CipherXChaCha  = "xchacha20poly1305"
	KDFArgon2id    = "argon2id"
	KDFPBKDF2      = "pbkdf2"
	DefaultLogFile = ".daemon.log"
)

var ErrInvalid = errors.New("config: invalid")

// Load reads a YAML file. A missing file at an empty path yields defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Directory == "" {
		c.Directory = "."
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.KDF.Algo == "" {
		c.KDF.Algo = KDFArgon2id
	}
	def := cr.NewArgon2idKDF()
	if c.KDF.Memory == 0 {
		c.KDF.Memory = def.M
	}
	if c.KDF.Time == 0 {
		c.KDF.Time = def.T
	}
	if c.KDF.Threads == 0 {
		c.KDF.Threads = def.P
	}
	if c.KDF.Iterations == 0 {
		c.KDF.Iterations = cr.NewPBKDF2KDF().Iterations
	}
	if c.Cipher == "" {
		c.Cipher = CipherAESCBC
	}
	if c.Signature.Algo == "" {
		c.Signature.Algo = cr.AlgoEd25519
	}
	if c.Signature.Algo == cr.AlgoRSA && c.Signature.RSABits == 0 {
		c.Signature.RSABits = cr.MinRSABits
	}
	if c.Notify.Enabled == nil {
		on := true
		c.Notify.Enabled = &on
	}
	if c.Notify.Rate <= 0 {
		c.Notify.Rate = 1
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = 10
	}
	if c.Archive.Database == "" {
		c.Archive.Database = "estou_a_ver"
	}
	if c.Archive.Collection == "" {
		c.Archive.Collection = "evidence"
	}
	if c.Archive.Reports == "" {
		c.Archive.Reports = "reports"
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if info, err := os.Stat(c.Directory); err != nil {
		bad("directory: %v", err)
	} else if !info.IsDir() {
		bad("directory: %s is not a directory", c.Directory)
	}
	switch c.KDF.Algo {
	case KDFArgon2id:
		if c.KDF.Memory < 8*1024 || c.KDF.Time == 0 || c.KDF.Threads == 0 {
			bad("kdf: argon2id needs memory >= 8192 KiB, time and threads >= 1")
		}
	case KDFPBKDF2:
		if c.KDF.Iterations < 100_000 {
			bad("kdf: pbkdf2 iterations %d below 100000", c.KDF.Iterations)
		}
	default:
		bad("kdf: unknown algo %q", c.KDF.Algo)
	}
	switch c.Cipher {
	case CipherAESCBC, CipherXChaCha:
	default:
		bad("cipher: unknown %q", c.Cipher)
	}
	switch c.Signature.Algo {
	case cr.AlgoEd25519:
	case cr.AlgoRSA:
		if c.Signature.RSABits < cr.MinRSABits {
			bad("signature: rsa_bits %d below %d", c.Signature.RSABits, cr.MinRSABits)
		}
	default:
		bad("signature: unknown algo %q", c.Signature.Algo)
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			bad("exclude: bad pattern %q", p)
		}
	}
	outputs := []string{c.MetricsFile}
	if c.LogFile != "-" {
		outputs = append(outputs, c.LogPath())
	}
	for _, out := range outputs {
		if out != "" && visibleInside(c.Directory, out) {
			bad("%s would be monitored; use a hidden name or another directory", out)
		}
	}
	if c.Interval < time.Second {
		bad("interval %v below 1s", c.Interval)
	}
	return errors.Join(errs...)
}

// Suite builds the crypto suite the settings describe.
func (c *Config) Suite() *cr.Suite {
	var kdf cr.KDF
	switch c.KDF.Algo {
	case KDFPBKDF2:
		kdf = cr.PBKDF2KDF{Iterations: c.KDF.Iterations}
	default:
		kdf = cr.Argon2idKDF{M: c.KDF.Memory, T: c.KDF.Time, P: c.KDF.Threads}
	}
	var cipher cr.Cipher = cr.AESCBC{}
	if c.Cipher == CipherXChaCha {
		cipher = cr.XChaChaCipher{}
	}
	return cr.NewSuite(kdf, cipher, cr.KeyGen{Algo: c.Signature.Algo, Bits: c.Signature.RSABits})
}

// visibleInside reports whether path lies under dir with no hidden
// component, in which case the monitor would sign it.
func visibleInside(dir, path string) bool {
	absDir, err1 := filepath.Abs(dir)
	absPath, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}
	return !snapshot.Hidden(filepath.ToSlash(rel))
}

func (c *Config) NotifyEnabled() bool {
	return c.Notify.Enabled == nil || *c.Notify.Enabled
}

// LogPath resolves LogFile relative to the monitored directory.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return filepath.Join(c.Directory, c.LogFile)
}
