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

// Package portrange parses the "host:port" and "host:minport-maxport"
// address forms used by cmd/fanout, which advertises on the low port and
// starts one Subscriber per port in the span, all on a single Node
// without a discovery layer.
package portrange

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var addrMatcher = regexp.MustCompile(`(.*):([0-9]{1,5})-?([0-9]{1,5})?`)

// Range names a host and an inclusive span of ports. MinPort == MaxPort
// for a plain single-port address.
type Range struct {
	Host    string
	MinPort int
	MaxPort int
}

// Parse reads "host:port" or "host:minport-maxport".
func Parse(addr string) (*Range, error) {
	matches := addrMatcher.FindStringSubmatch(addr)
	if len(matches) < 4 {
		return nil, errors.Errorf("malformed address: %v", addr)
	}

	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, errors.Wrap(err, "parse min port")
	}

	maxPort := minPort
	if matches[3] != "" {
		maxPort, err = strconv.Atoi(matches[3])
		if err != nil {
			return nil, errors.Wrap(err, "parse max port")
		}
	}

	if minPort == 0 || maxPort == 0 || minPort > maxPort || minPort > 65535 || maxPort > 65535 {
		return nil, errors.Errorf("invalid port range specified: minport:%v -> maxport:%v", minPort, maxPort)
	}

	return &Range{Host: matches[1], MinPort: minPort, MaxPort: maxPort}, nil
}

// Ports expands the range into every port it names, in ascending order.
func (r *Range) Ports() []int {
	ports := make([]int, 0, r.MaxPort-r.MinPort+1)
	for p := r.MinPort; p <= r.MaxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}
