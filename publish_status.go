package scanrig

// Contains the status publisher, which publishes JSON-encoded messages
// giving the latest rig state over a ZMQ PUB socket.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// StatusUpdate carries one message to be published on the status port.
type StatusUpdate struct {
	Tag   string
	State interface{} // JSON-serialized; only exported fields go out
}

// RunStatusPublisher forwards any message from its input channel to the
// ZMQ publisher socket, as a two-frame message: tag, then JSON body. It
// returns when abort is closed.
func RunStatusPublisher(messages <-chan StatusUpdate, portstatus int, abort <-chan struct{}) {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind status PUB socket to %s: %v", hostname, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			body, err := json.Marshal(update.State)
			if err != nil {
				ProblemLogger.Printf("could not serialize %q status update: %v", update.Tag, err)
				continue
			}
			if _, err := pubSocket.SendMessage(update.Tag, body); err != nil {
				ProblemLogger.Printf("could not publish %q status update: %v", update.Tag, err)
			}
			UpdateLogger.Printf("%s %s", update.Tag, body)
		}
	}
}
