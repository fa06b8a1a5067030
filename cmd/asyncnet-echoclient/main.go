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

// Command asyncnet-echoclient is the external collaborator that wires
// asyncnet.NetworkWriter to the process's command line, sending a
// single framed payload and printing the echoed reply. Grounded on
// xtaci/kcptun/client/main.go's cli.App/flag/log pattern.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"strings"

	"github.com/urfave/cli"
	"github.com/xtaci/asyncnet"
)

var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "asyncnet-echoclient"
	app.Usage = "framed TCP echo client built on the asyncnet engine"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "remoteaddr,r",
			Value: "127.0.0.1:12377",
			Usage: "remote address to connect to",
		},
		cli.StringFlag{
			Name:  "payload",
			Value: "hello",
			Usage: "payload to send; repeated to fill --bytes if larger",
		},
		cli.IntFlag{
			Name:  "bytes",
			Value: 0,
			Usage: "total payload size in bytes; 0 uses --payload as-is",
		},
		cli.IntFlag{
			Name:  "maxmessage",
			Value: 65536,
			Usage: "maximum payload bytes per frame",
		},
	}
	app.Action = func(c *cli.Context) error {
		remote := c.String("remoteaddr")
		log.Println("connecting to:", remote)

		addr, err := net.ResolveTCPAddr("tcp", remote)
		checkError(err)

		writer, err := asyncnet.NewNetworkWriter(nil, addr, asyncnet.WithMaxMessageSize(c.Int("maxmessage")))
		checkError(err)

		checkError(writer.Connect(context.Background(), addr))
		defer writer.Shutdown()

		payload := buildPayload(c.String("payload"), c.Int("bytes"))
		log.Println("sending", len(payload), "bytes")

		_, err = writer.Write(addr, payload)
		checkError(err)

		reply := make([]byte, len(payload))
		result, err := writer.Read(addr, reply)
		checkError(err)

		log.Println("received", result.BytesTransferred, "bytes from", result.Peer)
		os.Stdout.Write(result.Buffer)
		os.Stdout.WriteString("\n")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildPayload(base string, total int) []byte {
	if total <= 0 {
		return []byte(base)
	}
	return []byte(strings.Repeat(base, total/len(base)+1))[:total]
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
