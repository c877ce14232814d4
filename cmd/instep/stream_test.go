package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/instep/internal/testutils"
)

// StreamCmdTestSuite provides testify/suite for proper test isolation
type StreamCmdTestSuite struct {
	CommandSuite
}

func resetStreamFlags() {
	streamName = ""
	streamModel = ""
	streamJSON = false
	streamKinds = nil
	streamMode = ""
	streamStats = false
	streamDuration = 0
	streamTimeout = 15 * time.Second
	streamNoReconnect = false
}

// SetupTest runs before each test in the suite
func (suite *StreamCmdTestSuite) SetupTest() {
	suite.CommandSuite.SetupTest()
	resetStreamFlags()

	streamCmd.ResetFlags()
	streamCmd.Flags().StringVar(&streamName, "name", "", "Match the first device whose name starts with this prefix")
	streamCmd.Flags().StringVar(&streamModel, "model", "", "Pin a registered model instead of matching the advertised name")
	streamCmd.Flags().BoolVar(&streamJSON, "json", false, "Output NDJSON, one event per line")
	streamCmd.Flags().StringSliceVar(&streamKinds, "kind", nil, "Only print these sample kinds (accel, gyro, quat, pressure)")
	streamCmd.Flags().StringVar(&streamMode, "mode", "", "Streaming mode: legacy, motion, or full")
	streamCmd.Flags().BoolVar(&streamStats, "stats", false, "Print a session summary on exit")
	streamCmd.Flags().DurationVar(&streamDuration, "duration", 0, "Stop after this long (0 = until Ctrl-C)")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 15*time.Second, "Connection timeout")
	streamCmd.Flags().BoolVar(&streamNoReconnect, "no-reconnect", false, "Exit instead of reconnecting when the link drops")
}

// decodeStreamLines splits NDJSON output into typed event views.
func (suite *StreamCmdTestSuite) decodeStreamLines(output string) (samples []sampleJSON, statuses []statusJSON, states []stateJSON) {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var head struct {
			Type string `json:"type"`
		}
		suite.Require().NoError(json.Unmarshal([]byte(line), &head), "each line MUST be valid JSON: %s", line)
		switch head.Type {
		case "sample":
			var v sampleJSON
			suite.Require().NoError(json.Unmarshal([]byte(line), &v))
			samples = append(samples, v)
		case "status":
			var v statusJSON
			suite.Require().NoError(json.Unmarshal([]byte(line), &v))
			statuses = append(statuses, v)
		case "state":
			var v stateJSON
			suite.Require().NoError(json.Unmarshal([]byte(line), &v))
			states = append(states, v)
		default:
			suite.Require().Fail("unknown event type", "line: %s", line)
		}
	}
	return samples, statuses, states
}

func (suite *StreamCmdTestSuite) TestStreamCmd_Help() {
	// GOAL: Verify stream command displays help text with all flags
	//
	// TEST SCENARIO: Execute stream --help → returns success → output contains description and flag documentation

	output, err := executeCommand(newTestRoot(streamCmd), "stream", "--help")
	suite.Require().NoError(err, "help command MUST succeed")

	suite.Assert().Contains(output, "prints decoded sensor events", "help MUST contain command description")
	suite.Assert().Contains(output, "--kind", "help MUST document --kind flag")
	suite.Assert().Contains(output, "--no-reconnect", "help MUST document --no-reconnect flag")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_MissingTarget() {
	// GOAL: Verify stream requires an address or a name prefix
	//
	// TEST SCENARIO: Execute stream with neither → returns error naming both options

	_, err := executeCommand(newTestRoot(streamCmd), "stream")

	suite.Require().Error(err, "missing target MUST return error")
	suite.Assert().Contains(err.Error(), "specify a device address or a --name prefix")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_InvalidKind() {
	// GOAL: Verify stream rejects unknown sample kinds
	//
	// TEST SCENARIO: Execute stream with a bogus --kind → returns error listing valid kinds

	_, err := executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--kind", "banana")

	suite.Require().Error(err, "invalid kind MUST return error")
	suite.Assert().Contains(err.Error(), `invalid kind "banana"`, "error MUST name the bad token")
	suite.Assert().Contains(err.Error(), "accel, gyro, quat, or pressure", "error MUST list valid kinds")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_InvalidMode() {
	// GOAL: Verify stream rejects unknown streaming modes
	//
	// TEST SCENARIO: Execute stream with a bogus --mode → returns error listing valid modes

	_, err := executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--mode", "turbo")

	suite.Require().Error(err, "invalid mode MUST return error")
	suite.Assert().Contains(err.Error(), `invalid mode "turbo"`, "error MUST name the bad token")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_NDJSONStream() {
	// GOAL: Verify a bounded stream emits state, status and sample events as NDJSON
	//
	// TEST SCENARIO: Fake insole delivers one combined packet → stream runs
	// for a fixed duration → output carries the connect lifecycle, one
	// status, and eight decoded samples

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)
	notifyWhenSubscribed(adapter, testutils.CombinedPacket(42, 13, 14, 15, 250))

	var err error
	output := suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--json", "--duration", "400ms")
	})
	suite.Require().NoError(err, "bounded stream MUST end cleanly")

	samples, statuses, states := suite.decodeStreamLines(output)

	suite.Require().Len(statuses, 1, "exactly one status MUST be published on connect")
	suite.Assert().Equal(82, statuses[0].Battery)
	suite.Assert().Equal("11", statuses[0].Firmware)
	suite.Assert().Equal("right/plantar", statuses[0].Mount)

	transitions := make([]string, 0, len(states))
	for _, st := range states {
		transitions = append(transitions, st.To)
	}
	suite.Assert().Contains(transitions, "connected", "stream MUST report the connected transition")
	suite.Assert().Contains(transitions, "disconnected", "stream MUST report the final disconnect")

	suite.Require().Len(samples, 8, "one combined packet MUST decode into eight samples")
	kinds := map[string]int{}
	for _, sm := range samples {
		kinds[sm.Kind]++
		suite.Assert().Equal(uint16(42), sm.Serial, "samples MUST carry the packet serial")
		suite.Assert().Equal("right", sm.Side)
	}
	suite.Assert().Equal(map[string]int{"accel": 2, "gyro": 2, "quat": 2, "pressure": 2}, kinds)

	for _, sm := range samples {
		if sm.Kind == "quat" {
			suite.Require().NotNil(sm.Quat, "quaternion samples MUST carry the quat object")
			suite.Assert().InDelta(1.0, sm.Quat.W, 0.01, "test packet W MUST decode near unit")
		}
		if sm.Kind == "pressure" {
			suite.Assert().Len(sm.Pressure, 6, "pressure samples MUST carry six zones")
		}
	}
}

func (suite *StreamCmdTestSuite) TestStreamCmd_KindFilter() {
	// GOAL: Verify --kind restricts which samples are printed
	//
	// TEST SCENARIO: One combined packet, pressure filter → only the two
	// pressure samples appear, lifecycle lines unaffected

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)
	notifyWhenSubscribed(adapter, testutils.CombinedPacket(7, 1, 2, 3, 4))

	var err error
	output := suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--json", "--kind", "pressure", "--duration", "400ms")
	})
	suite.Require().NoError(err, "bounded stream MUST end cleanly")

	samples, _, states := suite.decodeStreamLines(output)
	suite.Require().Len(samples, 2, "only pressure samples MUST pass the filter")
	for _, sm := range samples {
		suite.Assert().Equal("pressure", sm.Kind)
	}
	suite.Assert().NotEmpty(states, "state lines MUST NOT be filtered")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_ModeCommand() {
	// GOAL: Verify --mode selects the streaming command written on connect
	//
	// TEST SCENARIO: Stream with --mode motion → device receives the 0x0D
	// command selecting mode 0x03

	peripheral := newInsolePeripheral(testAddr1)
	adapter := testutils.NewFakeAdapter().WithPeripheral(peripheral)
	suite.InstallAdapter(adapter)

	var err error
	suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--json", "--mode", "motion", "--duration", "200ms")
	})
	suite.Require().NoError(err, "bounded stream MUST end cleanly")

	cmdWrites := peripheral.WritesTo(infoChar)
	suite.Require().NotEmpty(cmdWrites, "device MUST receive a streaming command")
	suite.Assert().Equal([]byte{0x0D, 0x03}, cmdWrites[0].Data, "command MUST select motion mode")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_NoReconnectExit() {
	// GOAL: Verify --no-reconnect turns a dropped link into a command error
	//
	// TEST SCENARIO: Link drops after connect → stream exits with the loss
	// as its error instead of redialing

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if link := adapter.LastLink(); link != nil && link.IsSubscribed(sensorChar) {
				link.Drop()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	var err error
	suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--json", "--no-reconnect")
	})

	suite.Require().Error(err, "link loss without reconnect MUST fail the command")
	suite.Assert().Contains(err.Error(), "lost", "error MUST describe the link loss")
	suite.Assert().Equal(1, adapter.Dials(), "no redial MUST be attempted")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_NameDiscovery() {
	// GOAL: Verify --name acquires the first matching advertiser
	//
	// TEST SCENARIO: Stream with a name prefix and no address → the insole
	// is found by advertisement and streamed

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)

	var err error
	output := suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", "--name", "INS", "--json", "--duration", "200ms")
	})
	suite.Require().NoError(err, "discovery by name MUST succeed")

	_, statuses, _ := suite.decodeStreamLines(output)
	suite.Require().Len(statuses, 1)
	suite.Assert().Equal(testAddr1, statuses[0].Address)
	suite.Assert().Equal("INS-R", statuses[0].Name, "handle MUST carry the advertised name")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_PinnedModelConnect() {
	// GOAL: Verify --model with an address dials directly without scanning
	//
	// TEST SCENARIO: Stream with a pinned model → exactly one dial, no
	// advertisement matching required

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)

	var err error
	output := suite.CaptureStdout(func() {
		_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--model", "ORPHE CORE", "--json", "--duration", "200ms")
	})
	suite.Require().NoError(err, "pinned connect MUST succeed")
	suite.Assert().Equal(1, adapter.Dials(), "pinned model MUST dial exactly once")

	_, statuses, _ := suite.decodeStreamLines(output)
	suite.Require().Len(statuses, 1, "status MUST still be read over the direct connection")
}

func (suite *StreamCmdTestSuite) TestStreamCmd_StatsSummary() {
	// GOAL: Verify --stats prints a session summary after the stream ends
	//
	// TEST SCENARIO: Bounded stream with one packet → stderr carries the
	// counter block with a non-zero sample count

	adapter := testutils.NewFakeAdapter().WithPeripheral(newInsolePeripheral(testAddr1))
	suite.InstallAdapter(adapter)
	notifyWhenSubscribed(adapter, testutils.CombinedPacket(3, 1, 2, 3, 4))

	var err error
	stderr := suite.CaptureStderr(func() {
		suite.CaptureStdout(func() {
			_, err = executeCommand(newTestRoot(streamCmd), "stream", testAddr1, "--json", "--stats", "--duration", "400ms")
		})
	})
	suite.Require().NoError(err, "bounded stream MUST end cleanly")

	suite.Assert().Contains(stderr, "notifications:  1", "summary MUST count the delivered notification")
	suite.Assert().Contains(stderr, "samples:        8", "summary MUST count decoded samples")
	suite.Assert().Contains(stderr, "reconnects:     0")
}

func TestStreamCmdTestSuite(t *testing.T) {
	suite.Run(t, new(StreamCmdTestSuite))
}
