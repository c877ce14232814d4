package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/testutils"
	"github.com/srg/instep/internal/transport"
)

// Test device addresses for consistent fake device identification
const (
	testAddr1 = "AA:BB:CC:DD:EE:01"
	testAddr2 = "AA:BB:CC:DD:EE:02"
)

var (
	sensorChar = bledb.OrpheSensorValuesUUID
	infoChar   = bledb.OrpheDeviceInfoUUID
)

// CommandSuite carries the shared plumbing for command tests: a scripted
// transport behind the adapter factory, and stdout/stderr capture. Command
// test suites embed this and chain its SetupTest/TearDownTest.
type CommandSuite struct {
	suite.Suite
	originalFactory func(*logrus.Logger, int) transport.Adapter
}

func (s *CommandSuite) SetupTest() {
	s.originalFactory = newTransportAdapter
}

func (s *CommandSuite) TearDownTest() {
	newTransportAdapter = s.originalFactory
}

// InstallAdapter routes every command in the test through the fake radio.
func (s *CommandSuite) InstallAdapter(a transport.Adapter) {
	newTransportAdapter = func(*logrus.Logger, int) transport.Adapter { return a }
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// CaptureStderr executes fn while capturing stderr.
func (s *CommandSuite) CaptureStderr(fn func()) string {
	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stderr = w
	defer func() { os.Stderr = oldStderr }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// newInsolePeripheral builds a right-foot insole with a readable device
// information record: 82% battery, right/plantar, ±8 g, ±2000 deg/s, v11.
func newInsolePeripheral(address string) *testutils.FakePeripheral {
	return testutils.NewPeripheral(address, "INS-R").
		WithValue(infoChar, testutils.InfoRecordBytes(82, 0x01, 2, 3, 11))
}

// notifyWhenSubscribed waits in the background for the session's sensor
// subscription, then delivers the packets in order.
func notifyWhenSubscribed(a *testutils.FakeAdapter, packets ...[]byte) {
	go func() {
		deadline := time.After(3 * time.Second)
		poll := time.NewTicker(10 * time.Millisecond)
		defer poll.Stop()
		for {
			select {
			case <-deadline:
				return
			case <-poll.C:
				link := a.LastLink()
				if link == nil || !link.IsSubscribed(sensorChar) {
					continue
				}
				for _, pkt := range packets {
					link.Notify(sensorChar, pkt)
				}
				return
			}
		}
	}()
}

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// newTestRoot wraps one subcommand in a fresh root carrying the same
// persistent flags main registers, so tests stay isolated from rootCmd.
func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "instep", SilenceErrors: true}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringSlice("schema", nil, "Additional model schema YAML file (repeatable)")
	root.PersistentFlags().Int("adapter-id", -1, "HCI adapter index (Linux only, -1 for default)")
	root.AddCommand(sub)
	return root
}
