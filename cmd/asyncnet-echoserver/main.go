// Copyright (c) 2016 xtaci
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

// Command asyncnet-echoserver is the external collaborator that wires
// asyncnet.NetworkReader to the process's command line. It carries no
// engine logic of its own (spec.md §1 treats CLI drivers as out of
// scope); grounded on xtaci/kcptun/server/main.go's cli.App/flag/log
// pattern.
package main

import (
	"log"
	"net"
	"os"

	"github.com/urfave/cli"
	"github.com/xtaci/asyncnet"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "asyncnet-echoserver"
	app.Usage = "framed TCP echo server built on the asyncnet engine"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "127.0.0.1:12377",
			Usage: "listen address, eg: 127.0.0.1:12377",
		},
		cli.IntFlag{
			Name:  "maxmessage",
			Value: 65536,
			Usage: "maximum payload bytes per frame",
		},
		cli.IntFlag{
			Name:  "accepts",
			Value: 8,
			Usage: "number of outstanding accept operations to keep in flight",
		},
		cli.IntFlag{
			Name:  "pooledbuffers",
			Value: 0,
			Usage: "buffers to pre-warm per size-class bucket",
		},
		cli.IntFlag{
			Name:  "preallocstates",
			Value: 0,
			Usage: "completion state objects to preallocate",
		},
	}
	app.Action = func(c *cli.Context) error {
		listenAddr := c.String("listen")
		maxMessage := c.Int("maxmessage")
		accepts := c.Int("accepts")

		log.Println("listening on:", listenAddr)
		log.Println("max message size:", maxMessage)
		log.Println("concurrent accepts:", accepts)

		addr, err := net.ResolveTCPAddr("tcp", listenAddr)
		checkError(err)

		listener, err := net.ListenTCP("tcp", addr)
		checkError(err)
		defer listener.Close()

		reader, err := asyncnet.NewNetworkReader(
			listener,
			asyncnet.EchoHandler,
			addr,
			asyncnet.WithMaxMessageSize(maxMessage),
			asyncnet.WithPooledBuffersPerBucket(c.Int("pooledbuffers")),
			asyncnet.WithPreallocatedStateObjects(c.Int("preallocstates")),
		)
		checkError(err)

		if err := reader.Start(uint16(accepts)); err != nil {
			checkError(err)
		}

		log.Println("echo server running, press ctrl-c to stop")
		select {}
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
