package launcher_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"ec2launch/internal/catalog"
	"ec2launch/internal/config"
	"ec2launch/internal/launcher"
	"ec2launch/internal/logging"
	"ec2launch/internal/prompt"
	"ec2launch/internal/provisioning"
	"ec2launch/internal/ssh"
	"ec2launch/internal/state"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func cliDefaults() launcher.Configuration {
	return launcher.Configuration{
		Zone:          "us-east-1a",
		SecurityGroup: "default",
		InstanceType:  catalog.DefaultInstanceType,
		Architecture:  catalog.Arch64,
		StorageType:   catalog.StorageEBS,
		KeyName:       "mykey",
	}
}

var _ = Describe("Launcher", func() {
	var (
		ctx     context.Context
		gateway *fakeGateway
		out     *bytes.Buffer
		waits   []time.Duration
		opts    launcher.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		gateway = newFakeGateway()
		out = &bytes.Buffer{}
		waits = nil
		opts = launcher.Options{
			PollInterval: 2 * time.Second,
			Output:       out,
			Wait: func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				return ctx.Err()
			},
			NewClientToken: func() string { return "token-1" },
		}
	})

	newLauncher := func(script string) *launcher.Launcher {
		var p prompt.Prompter
		if script != "" {
			p = prompt.NewLinePrompter(strings.NewReader(script), io.Discard)
		}
		return launcher.New(gateway, catalog.Default(), p, opts)
	}

	Context("non-interactive", func() {
		It("resolves the CLI defaults and creates exactly one instance", func() {
			result, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Configuration).To(Equal(cliDefaults()))
			Expect(gateway.creates).To(HaveLen(1))
			Expect(gateway.creates[0]).To(Equal(provisioning.LaunchRequest{
				ImageID:       "ami-82fa58eb",
				Zone:          "us-east-1a",
				Region:        "us-east-1",
				SecurityGroup: "default",
				InstanceType:  "t1.micro",
				KeyName:       "mykey",
				ClientToken:   "token-1",
			}))
			Expect(result.Status).To(Equal(provisioning.StatusRunning))
			Expect(out.String()).To(Equal("ec2-54-1-2-3.compute-1.amazonaws.com\n"))
		})

		It("passes the instance name and boot user data to the create call", func() {
			opts.InstanceName = "ec2launch-1700000000"
			opts.UserData = "#cloud-config\nruncmd:\n- touch /tmp/booted\n"

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.creates).To(HaveLen(1))
			Expect(gateway.creates[0].Name).To(Equal("ec2launch-1700000000"))
			Expect(gateway.creates[0].UserData).To(ContainSubstring("touch /tmp/booted"))
		})

		It("rejects an unsupported region before calling the provider", func() {
			cfg := cliDefaults()
			cfg.Zone = "mars-1a"

			_, err := newLauncher("").Launch(ctx, cfg, nil)
			var unsupported *catalog.UnsupportedRegionError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Region).To(Equal("mars-1"))
			Expect(gateway.creates).To(BeEmpty())
			Expect(gateway.listCalls).To(BeZero())
		})

		It("rejects a missing key name", func() {
			cfg := cliDefaults()
			cfg.KeyName = ""

			_, err := newLauncher("").Launch(ctx, cfg, nil)
			Expect(err).To(MatchError(ContainSubstring("key name is required")))
			Expect(gateway.creates).To(BeEmpty())
		})

		It("rejects values the provider does not offer", func() {
			cfg := cliDefaults()
			cfg.SecurityGroup = "missing"

			_, err := newLauncher("").Launch(ctx, cfg, nil)
			var unavailable *launcher.UnavailableError
			Expect(errors.As(err, &unavailable)).To(BeTrue())
			Expect(unavailable.Kind).To(Equal("security group"))
			Expect(gateway.creates).To(BeEmpty())
		})
	})

	Context("polling", func() {
		It("waits exactly twice for pending, pending, running", func() {
			gateway.statuses = []provisioning.Status{
				provisioning.StatusPending,
				provisioning.StatusPending,
				provisioning.StatusRunning,
			}

			result, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Waits).To(Equal(2))
			Expect(waits).To(Equal([]time.Duration{2 * time.Second, 2 * time.Second}))
			Expect(gateway.statusCalls).To(Equal(3))
		})

		It("fails on a non-running terminal state without printing an endpoint", func() {
			gateway.statuses = []provisioning.Status{provisioning.StatusPending, provisioning.StatusTerminated}

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			var terminal *launcher.TerminalStateError
			Expect(errors.As(err, &terminal)).To(BeTrue())
			Expect(terminal.Status).To(Equal(provisioning.StatusTerminated))
			Expect(terminal.InstanceID).To(Equal("i-0abc"))
			Expect(gateway.creates).To(HaveLen(1))
			Expect(gateway.endpointCalls).To(BeZero())
			Expect(out.String()).To(BeEmpty())
		})

		It("stops after the configured number of status checks", func() {
			gateway.statuses = []provisioning.Status{provisioning.StatusPending}
			opts.MaxPolls = 3

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).To(MatchError(launcher.ErrPollLimit))
			Expect(gateway.statusCalls).To(Equal(3))
			Expect(waits).To(HaveLen(2))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("stops when the context is cancelled between checks", func() {
			gateway.statuses = []provisioning.Status{provisioning.StatusPending}
			cctx, cancel := context.WithCancel(ctx)
			opts.Wait = func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			}

			_, err := newLauncher("").Launch(cctx, cliDefaults(), nil)
			Expect(err).To(MatchError(context.Canceled))
			Expect(gateway.statusCalls).To(Equal(1))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("applies the launch timeout to polling", func() {
			gateway.statuses = []provisioning.Status{provisioning.StatusPending}
			opts.Timeout = 20 * time.Millisecond
			opts.Wait = func(ctx context.Context, d time.Duration) error {
				<-ctx.Done()
				return ctx.Err()
			}

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("propagates status errors unchanged", func() {
			statusErr := errors.New("throttled")
			gateway.statusErr = statusErr

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).To(BeIdenticalTo(statusErr))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("does not retry a failed create", func() {
			createErr := errors.New("InsufficientInstanceCapacity")
			gateway.createErr = createErr

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).To(BeIdenticalTo(createErr))
			Expect(gateway.creates).To(HaveLen(1))
			Expect(gateway.statusCalls).To(BeZero())
		})
	})

	Context("completion", func() {
		It("hands the instance and endpoint to the continuation instead of printing", func() {
			store := state.NewFileStore(filepath.Join(GinkgoT().TempDir(), "launches.json"))
			opts.Store = store

			var (
				got      provisioning.Instance
				endpoint string
			)
			result, err := newLauncher("").Launch(ctx, cliDefaults(), func(ctx context.Context, inst provisioning.Instance, ep string) error {
				got = inst
				endpoint = ep
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("i-0abc"))
			Expect(result.Instance).To(Equal(got))
			Expect(endpoint).To(Equal("ec2-54-1-2-3.compute-1.amazonaws.com"))
			Expect(result.Endpoint).To(Equal(endpoint))
			Expect(gateway.endpointCalls).To(Equal(1))
			Expect(out.String()).To(BeEmpty())

			records, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Endpoint).To(Equal(endpoint))
		})

		It("records a continuation failure with the endpoint", func() {
			store := state.NewFileStore(filepath.Join(GinkgoT().TempDir(), "launches.json"))
			opts.Store = store
			setupErr := errors.New("setup command 1/1 failed")

			_, err := newLauncher("").Launch(ctx, cliDefaults(), func(context.Context, provisioning.Instance, string) error {
				return setupErr
			})
			Expect(err).To(BeIdenticalTo(setupErr))

			records, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Endpoint).To(Equal("ec2-54-1-2-3.compute-1.amazonaws.com"))
			Expect(records[0].Error).To(Equal("setup command 1/1 failed"))
		})

		It("records the launch in the store", func() {
			store := state.NewFileStore(filepath.Join(GinkgoT().TempDir(), "launches.json"))
			opts.Store = store

			_, err := newLauncher("").Launch(ctx, cliDefaults(), nil)
			Expect(err).NotTo(HaveOccurred())

			records, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ClientToken).To(Equal("token-1"))
			Expect(records[0].InstanceID).To(Equal("i-0abc"))
			Expect(records[0].Status).To(Equal("running"))
			Expect(records[0].Endpoint).To(Equal("ec2-54-1-2-3.compute-1.amazonaws.com"))
			Expect(records[0].ImageID).To(Equal("ami-82fa58eb"))
		})
	})

	Context("interactive", func() {
		BeforeEach(func() {
			opts.Interactive = true
			opts.Hostname = func() (string, error) { return "workstation", nil }
		})

		It("does not count time spent answering prompts against the launch timeout", func() {
			opts.Timeout = 50 * time.Millisecond
			slow := &slowPrompter{
				next:  prompt.NewLinePrompter(strings.NewReader("2\n2\n2\n2\n2\n2\n2\n"), io.Discard),
				delay: 20 * time.Millisecond,
			}

			result, err := launcher.New(gateway, catalog.Default(), slow, opts).Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(slow.asked).To(Equal(7))
			Expect(result.Status).To(Equal(provisioning.StatusRunning))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("walks every step in order and uses the chosen storage type", func() {
			// region us-east-1, zone b, group web, m1.small, 32-bit, instance store, key ci
			script := "2\n2\n2\n2\n2\n2\n2\n"

			result, err := newLauncher(script).Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Configuration).To(Equal(launcher.Configuration{
				Zone:          "us-east-1b",
				SecurityGroup: "web",
				InstanceType:  "m1.small",
				Architecture:  catalog.Arch32,
				StorageType:   catalog.StorageInstance,
				KeyName:       "ci",
			}))
			Expect(result.ImageID).To(Equal("ami-4efa5827"))
			Expect(gateway.creates).To(HaveLen(1))
		})

		It("imports a new key using the hostname and default path when answers are blank", func() {
			var readPath string
			var defaulted bool
			opts.ReadPublicKey = func(path string, isDefault bool) ([]byte, error) {
				readPath, defaulted = path, isDefault
				return []byte("ssh-rsa AAAAB3 me@workstation"), nil
			}
			script := "1\n1\n1\n1\n1\n1\n0\n\n\n"

			result, err := newLauncher(script).Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).NotTo(HaveOccurred())

			wantPath, err := config.ExpandHome(launcher.DefaultKeyPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(readPath).To(Equal(wantPath))
			Expect(defaulted).To(BeTrue())

			Expect(gateway.imports).To(HaveLen(1))
			Expect(gateway.imports[0].Region).To(Equal("eu-west-1"))
			Expect(gateway.imports[0].Name).To(Equal("workstation"))
			Expect(string(gateway.imports[0].PublicKey)).To(Equal("ssh-rsa AAAAB3 me@workstation"))
			Expect(result.Configuration.KeyName).To(Equal("workstation"))
			Expect(result.Configuration.Zone).To(Equal("eu-west-1a"))
		})

		It("logs the fingerprint of the key it imports", func() {
			dir := GinkgoT().TempDir()
			kp, err := ssh.EnsureKeyPair(filepath.Join(dir, "id_rsa"), filepath.Join(dir, "id_rsa.pub"))
			Expect(err).NotTo(HaveOccurred())
			opts.ReadPublicKey = func(path string, isDefault bool) ([]byte, error) {
				return ssh.LoadPublicKey(path)
			}

			core, logs := observer.New(zap.InfoLevel)
			logging.SetLogger(zap.New(core))
			DeferCleanup(func() { logging.SetLogger(zap.NewNop()) })

			script := "1\n1\n1\n1\n1\n1\n0\ndeploy\n" + kp.PublicKeyPath + "\n"
			_, err = newLauncher(script).Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).NotTo(HaveOccurred())

			wantFingerprint, err := ssh.Fingerprint(gateway.imports[0].PublicKey)
			Expect(err).NotTo(HaveOccurred())
			entries := logs.FilterMessage("Importing key pair").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("fingerprint", wantFingerprint))
			Expect(wantFingerprint).To(HavePrefix("SHA256:"))
		})

		It("uses typed key name and path when given", func() {
			var readPath string
			opts.ReadPublicKey = func(path string, isDefault bool) ([]byte, error) {
				readPath = path
				Expect(isDefault).To(BeFalse())
				return []byte("ssh-ed25519 AAAAC3"), nil
			}
			script := "1\n1\n1\n1\n1\n1\n0\ndeploy\n/tmp/deploy.pub\n"

			result, err := newLauncher(script).Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(readPath).To(Equal("/tmp/deploy.pub"))
			Expect(result.Configuration.KeyName).To(Equal("deploy"))
		})

		It("rejects out-of-range and non-numeric choices without creating anything", func() {
			script := "3\n0\nus-east-1\n"

			_, err := newLauncher(script).Launch(ctx, launcher.Configuration{}, nil)
			var invalid *prompt.InvalidChoiceError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(gateway.creates).To(BeEmpty())
		})

		It("fails right after picking a region without images", func() {
			gateway.regions = []string{"ap-south-1", "us-east-1"}

			_, err := newLauncher("1\n").Launch(ctx, launcher.Configuration{}, nil)
			var unsupported *catalog.UnsupportedRegionError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Region).To(Equal("ap-south-1"))
			Expect(gateway.creates).To(BeEmpty())
		})

		It("fails when a region has no security groups", func() {
			gateway.groups["us-east-1"] = nil

			_, err := newLauncher("2\n1\n").Launch(ctx, launcher.Configuration{}, nil)
			Expect(err).To(MatchError(prompt.ErrNoChoices))
			Expect(gateway.creates).To(BeEmpty())
		})

		It("requires a prompter", func() {
			_, err := newLauncher("").Resolve(ctx, launcher.Configuration{})
			Expect(err).To(HaveOccurred())
		})
	})
})

// slowPrompter answers like an operator who takes a while to decide.
type slowPrompter struct {
	next  prompt.Prompter
	delay time.Duration
	asked int
}

func (p *slowPrompter) Select(ctx context.Context, m prompt.Menu) (int, error) {
	p.asked++
	time.Sleep(p.delay)
	return p.next.Select(ctx, m)
}

func (p *slowPrompter) Input(ctx context.Context, question, fallback string) (string, error) {
	p.asked++
	time.Sleep(p.delay)
	return p.next.Input(ctx, question, fallback)
}
