// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// fanout advertises one publisher on the low port of a range and
// subscribes to it once per port in that range, every subscriber dialing
// the low port, to stress-test a single Publisher's fan-out to many peers
// without starting that many separate processes.
package main

import (
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/internal/portrange"
	"github.com/hyb-net/tcpbus/node"
	"github.com/hyb-net/tcpbus/subscriber"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "fanout"
	myApp.Usage = "advertise once, dial N loopback subscribers, and publish at a fixed rate"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr,a",
			Value: "127.0.0.1:9100-9199",
			Usage: `advertise address; the publisher binds the low port of the range, subscribers dial in from N loopback sockets, eg "127.0.0.1:9100-9199" for 100 subscribers`,
		},
		cli.IntFlag{
			Name:  "typeid,t",
			Value: 1,
			Usage: "message type id to publish and subscribe under",
		},
		cli.Float64Flag{
			Name:  "fps",
			Value: 30,
			Usage: "target publish rate in messages per second",
		},
		cli.IntFlag{
			Name:  "size",
			Value: 64,
			Usage: "payload size in bytes",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	rng, err := portrange.Parse(c.String("addr"))
	if err != nil {
		return err
	}
	typeID := uint32(c.Int("typeid"))
	size := c.Int("size")

	n := node.New(c.Float64("fps"))
	defer n.Close()

	pub, err := n.Advertise(rng.MinPort, compress.None)
	if err != nil {
		return err
	}
	log.Println("advertising on:", pub.Addr())

	var delivered uint64
	subCount := 0
	for _, port := range rng.Ports() {
		subCount++
		n.Subscribe(rng.Host, rng.MinPort, map[uint32]subscriber.Handler{
			typeID: func([]byte) { atomic.AddUint64(&delivered, 1) },
		}, compress.None, subscriber.WithBackoff(backoffFor(port)), subscriber.WithQuiet(true))
	}
	log.Println("subscribers dialing in:", subCount)

	go n.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	payload := make([]byte, size)
	for {
		select {
		case <-sigCh:
			log.Println("shutting down, peers connected:", pub.PeerCount(), "deliveries:", atomic.LoadUint64(&delivered))
			return nil
		default:
		}

		pub.Publish(typeID, payload)
		n.Sleep()
	}
}

// backoffFor staggers reconnect attempts across a small jitter window so
// a large fan-out doesn't thunder all its dial retries in lockstep.
func backoffFor(port int) time.Duration {
	return time.Duration(port%10+1) * time.Millisecond
}
