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

	"github.com/hyb-net/tcpbus/node"
	"github.com/hyb-net/tcpbus/stats"
	"github.com/hyb-net/tcpbus/subscriber"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "demo-sub"
	myApp.Usage = "subscribe to a message type on a remote publisher and log a running count of arrivals"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Value: "127.0.0.1",
			Usage: "publisher host",
		},
		cli.IntFlag{
			Name:  "port,p",
			Value: 9000,
			Usage: "publisher port",
		},
		cli.IntFlag{
			Name:  "typeid,t",
			Value: 1,
			Usage: "message type id to subscribe to",
		},
		cli.StringFlag{
			Name:  "compression",
			Value: "none",
			Usage: "none or zlib; must match the publisher",
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
			Usage: "suppress the 'connected/disconnected' messages",
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
		Host:        c.String("host"),
		Port:        c.Int("port"),
		TypeID:      c.Int("typeid"),
		Compression: c.String("compression"),
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
	log.Println("host:", config.Host)
	log.Println("port:", config.Port)
	log.Println("typeid:", config.TypeID)
	log.Println("compression:", config.Compression)

	reg := stats.New("tcpbus_demo_sub")
	if config.SnmpLog != "" {
		go stats.CSVLogger(reg, config.SnmpLog, time.Duration(config.SnmpPeriod)*time.Second)
	}

	var count uint64
	n := node.New(0, node.WithStats(reg))
	defer n.Close()

	n.Subscribe(config.Host, config.Port, map[uint32]subscriber.Handler{
		uint32(config.TypeID): func(payload []byte) {
			count++
			if count%100 == 0 {
				log.Println("received", count, "messages, last size:", len(payload))
			}
		},
	}, mode, subscriber.WithQuiet(config.Quiet))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		n.Run()
		close(done)
	}()

	<-sigCh
	log.Println("shutting down, total messages received:", count)
	return nil
}
