package sim

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {

	var cfg Config

	BeforeEach(func() {
		cfg = DefaultConfig()
	})

	It("should accept the defaults", func() {
		Expect(cfg.Validate()).To(Succeed())
	})

	It("should reject negative agents", func() {
		cfg.Agents = -1
		Expect(cfg.Validate()).To(MatchError(ErrConfigInvalid))
	})

	It("should reject zero servers", func() {
		cfg.Servers = 0
		Expect(cfg.Validate()).To(MatchError(ErrConfigInvalid))
	})

	It("should reject a packet size below the header", func() {
		cfg.PacketSize = PacketHeaderSize - 1
		Expect(cfg.Validate()).To(MatchError(ErrConfigInvalid))
	})

	It("should reject a zero bandwidth", func() {
		cfg.BandwidthPPS = 0
		Expect(cfg.Validate()).To(MatchError(ErrConfigInvalid))
	})

	It("should reject an unknown traffic pattern", func() {
		cfg.Traffic.Pattern = "sawtooth"
		Expect(cfg.Validate()).To(MatchError(ErrConfigInvalid))
	})

	It("should accept capacity zero and duration zero", func() {
		cfg.Capacity = 0
		cfg.Duration = 0
		Expect(cfg.Validate()).To(Succeed())
	})

	Describe("environment overlay", func() {
		AfterEach(func() {
			os.Unsetenv(EnvSeed)
			os.Unsetenv(EnvBasePort)
		})

		It("should pick up the seed when none is set", func() {
			os.Setenv(EnvSeed, "12345")

			Expect(cfg.ApplyEnv()).To(Succeed())
			Expect(cfg.Seed).To(Equal(uint64(12345)))
		})

		It("should not override an explicit seed", func() {
			os.Setenv(EnvSeed, "12345")
			cfg.Seed = 7

			Expect(cfg.ApplyEnv()).To(Succeed())
			Expect(cfg.Seed).To(Equal(uint64(7)))
		})

		It("should pick up the base port", func() {
			os.Setenv(EnvBasePort, "23000")

			Expect(cfg.ApplyEnv()).To(Succeed())
			Expect(cfg.BasePort).To(Equal(23000))
		})

		It("should reject a malformed base port", func() {
			os.Setenv(EnvBasePort, "not-a-port")

			Expect(cfg.ApplyEnv()).To(MatchError(ErrConfigInvalid))
		})
	})

	Describe("scenario files", func() {
		It("should overlay a YAML scenario onto the defaults", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "scenario.yaml")

			scenario := `
name: red-burst
strategy: red
agents: 10
duration: 10s
capacity: 100
traffic:
  pattern: bursty
  burst_size: 50
  burst_period: 1s
`
			Expect(os.WriteFile(path, []byte(scenario), 0o644)).To(Succeed())

			loaded, err := LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())

			Expect(loaded.Name).To(Equal("red-burst"))
			Expect(loaded.Strategy).To(Equal("red"))
			Expect(loaded.Agents).To(Equal(10))
			Expect(loaded.Duration).To(Equal(10 * time.Second))
			Expect(loaded.Capacity).To(Equal(100))
			Expect(loaded.Traffic.Pattern).To(Equal("bursty"))
			Expect(loaded.Traffic.BurstSize).To(Equal(50))
			Expect(loaded.Traffic.BurstPeriod).To(Equal(time.Second))

			// Untouched knobs keep their defaults.
			Expect(loaded.Servers).To(Equal(DefaultConfig().Servers))
			Expect(loaded.Validate()).To(Succeed())
		})

		It("should reject a malformed duration", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "scenario.yaml")

			Expect(os.WriteFile(path,
				[]byte("duration: ten-seconds\n"), 0o644)).To(Succeed())

			_, err := LoadConfig(path)
			Expect(err).To(MatchError(ErrConfigInvalid))
		})
	})
})
