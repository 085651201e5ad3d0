package utils

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Custom Epoch (January 1, 2018 Midnight GMT = 2018-01-01T00:00:00Z)
const CUSTOM_EPOCH int64 = 1514764800000

// HashMacAddressPid folds the mac address and pid into a 3-digit machine id.
func HashMacAddressPid(mac string) string {
	var hash uint16 = 0
	macPid := mac + strconv.Itoa(os.Getpid())
	for i := 0; i < len(macPid); i++ {
		hash += uint16(macPid[i] << (i & 1) * 8)
	}

	hashStr := strconv.FormatUint(uint64(hash), 10)
	// truncate hash
	if len(hashStr) > 3 {
		hashStr = hashStr[:3]
	} else if len(hashStr) < 3 {
		hashStr = strings.Repeat("0", 3-len(hashStr)) + hashStr
	}
	return hashStr
}

func GetMachineID() string {
	interfaces, err := net.Interfaces()
	if err == nil {
		for _, i := range interfaces {
			if i.Flags&net.FlagUp != 0 && !bytes.Equal(i.HardwareAddr, nil) {
				// Skip locally administered addresses
				if i.HardwareAddr[0]&2 == 2 {
					continue
				}

				mac := i.HardwareAddr
				return HashMacAddressPid(mac.String())
			}
		}
	}
	return "0"
}

func GenUniqueID(machineID string, timestamp int64, counter int64) (int64, error) {
	timestampHex := strconv.FormatInt(timestamp, 16)

	if len(timestampHex) > 10 {
		timestampHex = timestampHex[:10]
	} else if len(timestampHex) < 10 {
		timestampHex = strings.Repeat("0", 10-len(timestampHex)) + timestampHex
	}

	counterHex := strconv.FormatInt(counter, 16)
	if len(counterHex) > 3 {
		counterHex = counterHex[:3]
	} else if len(counterHex) < 3 {
		counterHex = strings.Repeat("0", 3-len(counterHex)) + counterHex
	}

	uniqueIDStr := machineID + timestampHex + counterHex
	uniqueID, err := strconv.ParseInt(uniqueIDStr, 16, 64)
	if err != nil {
		return 0, err
	}
	uniqueID = uniqueID & 0x7FFFFFFFFFFFFFFF
	return uniqueID, nil
}

// IDGenerator mints 63-bit ids from machine id + custom-epoch timestamp +
// per-timestamp counter. Ids minted by one generator are strictly increasing
// within a millisecond via the counter.
type IDGenerator struct {
	machineID        string
	mu               sync.Mutex
	currentTimestamp int64
	counter          int64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		machineID:        GetMachineID(),
		currentTimestamp: -1,
	}
}

func (g *IDGenerator) nextCounter(timestamp int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentTimestamp > timestamp {
		return 0, fmt.Errorf("timestamps are not incremental")
	}
	if g.currentTimestamp == timestamp {
		counter := g.counter
		g.counter += 1
		return counter, nil
	}
	g.currentTimestamp = timestamp
	g.counter = 1
	return g.counter, nil
}

func (g *IDGenerator) Next() (int64, error) {
	timestamp := time.Now().UnixMilli() - CUSTOM_EPOCH
	counter, err := g.nextCounter(timestamp)
	if err != nil {
		return 0, err
	}
	return GenUniqueID(g.machineID, timestamp, counter)
}
