package app

import (
	"github.com/ydb-platform/ydb-go-topic/internal/driver"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/topictest"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/writer"
)

// demoBroker backs this example's read/write commands. Generated
// StreamRead/StreamWrite stubs are an out-of-scope collaborator (spec §1),
// so there is no real wire client to hand to reader.Dialer/writer.Dialer
// here; a production caller builds Dial from a generated client dialed
// through driver.Driver.CreateClient instead. The broker still exercises
// the full reader/writer state machine against something, so this example
// is a runnable demo rather than a stub that does nothing.
var demoBroker = topictest.NewBroker()

func streamDialer(_ *driver.Driver) reader.Dialer {
	return demoBroker.DialReader()
}

func writerStreamDialer(_ *driver.Driver) writer.Dialer {
	return demoBroker.DialWriter()
}
