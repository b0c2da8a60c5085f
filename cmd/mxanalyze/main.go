// mxanalyze decodes Saleae digital captures of the EMW3080 SPI IPC
// link into a readable transaction history.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/exp/constraints"
)

// Optional flags.
var (
	timingsOutput string
)

type BusCtl struct {
	// Bus ordering.
	Order binary.ByteOrder
	// Interpret payload bytes as words.
	WordInterpreter binary.ByteOrder
	TrimForce       uint
	OmitEvents      bool
	OmitData        bool
	OmitPayload     bool
	PadDataToWord   bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "mxanalyze - Process binary Saleae digital data files corresponding to EMW3080 IPC transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sd := flag.String("f-sd", "digital_1.bin", "Input filename: SPI data line.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS line.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock line.")
	output := flag.String("o-cmd", "transactions.txt", "Output filename of EMW3080 IPC transactions.")

	flag.StringVar(&timingsOutput, "o-time", "", "Output timing data to a file corresponding to output transaction history line-by-line.")
	const defaultOrdering = "le"
	flagInterpretWords := flag.String("interpret-words", "", "Interpret payload bytes as uint32 words. Accepts 'be' or 'le'.")
	flagOrder := flag.String("bus-order", defaultOrdering, "IPC header byte order. Accepts 'be' or 'le'.")
	flagTrimForce := flag.Uint("trim-force", 0, "Trims n bytes off the end of every transaction.")
	omitEvents := flag.Bool("omit-events", false, "Omit unsolicited event transactions in output.")
	omitData := flag.Bool("omit-data", false, "Omit bulk data transactions in output.")
	omitPayload := flag.Bool("omit-payload", false, "Omit payload bytes in output, headers only.")
	padDataToWord := flag.Bool("pad-data", false, "Pad payload to word size (4 bytes).")
	flag.Parse()
	if *flagInterpretWords == "" {
		*flagInterpretWords = *flagOrder
	}
	getOrder := func(s string) binary.ByteOrder {
		switch s {
		case "be":
			return binary.BigEndian
		case "le":
			return binary.LittleEndian
		}
		log.Fatal("invalid ordering ", s)
		return nil
	}
	BUS := BusCtl{
		Order:           getOrder(*flagOrder),
		WordInterpreter: getOrder(*flagInterpretWords),
		TrimForce:       *flagTrimForce,
		OmitEvents:      *omitEvents,
		OmitData:        *omitData,
		OmitPayload:     *omitPayload,
		PadDataToWord:   *padDataToWord,
	}
	if BUS.OmitEvents && BUS.OmitData {
		log.Println("omitting both events and data, output will only contain command/response transactions")
	}
	start := time.Now()
	if err := BUS.run(*sd, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (bus *BusCtl) run(sd, enable, clk, output string) error {
	const fmtMsg = "tx×%2d %s payload=%#x"
	txs, err := bus.processSpiFiles(sd, clk, enable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	var timings *os.File
	if timingsOutput != "" {
		log.Println("creating timings file", timingsOutput)
		timings, err = os.Create(timingsOutput)
		if err != nil {
			return err
		}
		defer timings.Close()
	}

	for _, tx := range txs {
		if (bus.OmitEvents && tx.Hdr.Type == TypeEvent) || (bus.OmitData && tx.Hdr.Type == TypeData) {
			continue
		} else if bus.OmitPayload {
			tx.Payload = []byte{}
		} else if bus.PadDataToWord && len(tx.Payload)%4 != 0 {
			tx.Payload = append(tx.Payload, make([]byte, 4-len(tx.Payload)%4)...)
		}
		if int(tx.Hdr.Len) < len(tx.Payload) {
			// Print a space demarcating the end of the declared payload.
			// Anything after the space is bus padding, not IPC data.
			fmt.Fprintf(fp, fmtMsg, tx.Num, tx.Hdr.String(), tx.Payload[:tx.Hdr.Len])
			_, err = fmt.Fprintf(fp, " %x", tx.Payload[tx.Hdr.Len:])
		} else {
			_, err = fmt.Fprintf(fp, fmtMsg, tx.Num, tx.Hdr.String(), tx.Payload)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(fp)
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tpayload=%#x\n", tx.Start, tx.Payload)
		}
	}
	return nil
}

func (bus *BusCtl) processSpiFiles(fsd, fclk, fenable string) ([]mxtx, error) {
	sd, err := opendigital(fsd)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sd, sd)
	return bus.process(txs), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

// TxType is the EMW3080 IPC transaction type carried in the header.
type TxType uint8

const (
	typeInvalid TxType = 0
	// TypeCommand is a host-originated control request.
	TypeCommand TxType = 0x01
	// TypeResponse answers the most recent command.
	TypeResponse TxType = 0x02
	// TypeEvent is an unsolicited module indication (status changes).
	TypeEvent TxType = 0x03
	// TypeData is a bulk ethernet frame transfer.
	TypeData TxType = 0x04
)

func (t TxType) String() (s string) {
	switch t {
	case TypeCommand:
		s = "command"
	case TypeResponse:
		s = "response"
	case TypeEvent:
		s = "event"
	case TypeData:
		s = "data"
	case typeInvalid:
		s = "invalid"
	default:
		s = "unknown"
	}
	return s
}

// ipcMagic starts every IPC header on the wire.
const ipcMagic = 0xBE

// Header is the 6-byte EMW3080 IPC transaction header: magic, type,
// sequence and declared payload length.
type Header struct {
	Type TxType
	Seq  uint16
	Len  uint16
}

func (h *Header) String() string {
	return fmt.Sprintf("seq=%5d  type=%9s  len=%4v", h.Seq, h.Type.String(), h.Len)
}

func (bus *BusCtl) HeaderFromBytes(b []byte) (hdr Header, payload []byte) {
	if len(b) < 6 || b[0] != ipcMagic {
		hdr.Type = typeInvalid
		return hdr, b
	}
	hdr.Type = TxType(b[1])
	hdr.Seq = bus.Order.Uint16(b[2:4])
	hdr.Len = bus.Order.Uint16(b[4:6])
	payload = b[6:]
	if bus.TrimForce > 0 {
		payload = payload[:max(0, len(payload)-int(bus.TrimForce))]
	}
	return hdr, payload
}

type mxtx struct {
	Num     int
	Hdr     Header
	Payload []byte
	Start   float64
}

// process decodes raw SPI transactions and coalesces identical
// back-to-back transfers (the host polls the flow line by repeating
// reads) into one numbered entry.
func (bus *BusCtl) process(txs []analyzers.TxSPI) (mxtxs []mxtx) {
	var repeats int = 1
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		hdr, payload := bus.HeaderFromBytes(tx.SDO)
		for j := i + 1; j < len(txs); j++ {
			nexthdr, nextpayload := bus.HeaderFromBytes(txs[j].SDO)
			if nexthdr != hdr || !bytes.Equal(payload, nextpayload) {
				break
			}
			repeats++
			i = j
		}
		bus.interpretBytes(payload)
		mxtxs = append(mxtxs, mxtx{
			Num:     repeats,
			Hdr:     hdr,
			Payload: payload,
			Start:   tx.StartTime(),
		})
		repeats = 1
	}
	return mxtxs
}

func (bus *BusCtl) interpretBytes(data []byte) {
	if bus.WordInterpreter == bus.Order {
		return // Idempotent transformation.
	}
	for len(data) >= 4 {
		word := bus.Order.Uint32(data[:4])
		bus.WordInterpreter.PutUint32(data[:4], word)
		data = data[4:]
	}
}

func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
