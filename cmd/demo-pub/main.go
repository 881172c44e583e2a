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

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/node"
	"github.com/hyb-net/tcpbus/publisher"
	"github.com/hyb-net/tcpbus/stats"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "demo-pub"
	myApp.Usage = "advertise a message type on a TCP port and publish at a fixed rate"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port,p",
			Value: 9000,
			Usage: "port to advertise on",
		},
		cli.IntFlag{
			Name:  "typeid,t",
			Value: 1,
			Usage: "message type id to publish under",
		},
		cli.Float64Flag{
			Name:  "fps",
			Value: 30,
			Usage: "target publish rate in messages per second",
		},
		cli.StringFlag{
			Name:  "compression",
			Value: "none",
			Usage: "none, zlib, or jpeg",
		},
		cli.IntFlag{
			Name:  "size",
			Value: 64,
			Usage: "payload size in bytes (ignored for jpeg)",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect stats to a CSV file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress the 'peer accepted/closed' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	config := Config{
		Port:        c.Int("port"),
		TypeID:      c.Int("typeid"),
		FPS:         c.Float64("fps"),
		Compression: c.String("compression"),
		Size:        c.Int("size"),
		SnmpLog:     c.String("snmplog"),
		SnmpPeriod:  c.Int("snmpperiod"),
		Quiet:       c.Bool("quiet"),
	}
	if c.String("c") != "" {
		if err := parseJSONConfig(&config, c.String("c")); err != nil {
			return err
		}
	}

	mode, err := compressionModeOf(config.Compression)
	if err != nil {
		color.Red("%v", err)
		return err
	}

	log.Println("version:", VERSION)
	log.Println("port:", config.Port)
	log.Println("typeid:", config.TypeID)
	log.Println("fps:", config.FPS)
	log.Println("compression:", config.Compression)
	log.Println("size:", config.Size)

	reg := stats.New("tcpbus_demo_pub")
	if config.SnmpLog != "" {
		go stats.CSVLogger(reg, config.SnmpLog, time.Duration(config.SnmpPeriod)*time.Second)
	}

	n := node.New(config.FPS, node.WithStats(reg))
	defer n.Close()

	pub, err := n.Advertise(config.Port, mode, publisher.WithQuiet(config.Quiet))
	if err != nil {
		return err
	}
	log.Println("advertising on:", pub.Addr())

	go n.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var counter byte
	for {
		select {
		case <-sigCh:
			log.Println("shutting down")
			return nil
		default:
		}

		payload, err := buildPayload(mode, config.Size, counter)
		if err != nil {
			log.Println("build payload:", err)
		} else {
			pub.Publish(uint32(config.TypeID), payload)
		}
		counter++
		n.Sleep()
	}
}

// buildPayload produces the bytes handed to Publish. JPEG mode expects
// the raw image envelope (width, height, channels, pixels) that
// compress.EncodeImageMessage builds; every other mode just publishes
// an opaque byte buffer stamped with a rolling counter.
func buildPayload(mode compress.Mode, size int, counter byte) ([]byte, error) {
	if mode != compress.JPEG {
		payload := make([]byte, size)
		payload[0] = counter
		return payload, nil
	}

	const w, h = 16, 16
	pixels := make([]byte, w*h)
	for i := range pixels {
		pixels[i] = counter
	}
	return compress.EncodeImageMessage(w, h, 1, pixels)
}
