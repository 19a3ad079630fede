// Command audiosend streams a WAV file to a scribed UDP ingress in real
// time, simulating a live capture device.
package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"time"
)

// Standard PCM WAV header is 44 bytes.
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	target := flag.String("target", "localhost:7100", "scribed UDP ingress address")
	frameSamples := flag.Int("frame", 512, "Samples per datagram")
	rate := flag.Float64("rate", 1.0, "Playback speed multiplier")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("not a WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV: format=%d channels=%d sampleRate=%d bits=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)
	if audioFormat != 1 || bitsPerSample != 16 || numChannels != 1 {
		log.Fatal("only 16-bit mono PCM is supported")
	}

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("dial %s: %v", *target, err)
	}
	defer conn.Close()

	frameBytes := *frameSamples * 2
	frameInterval := time.Duration(float64(*frameSamples) / float64(sampleRate) / *rate * float64(time.Second))

	log.Printf("streaming to %s: %d samples per datagram every %s", *target, *frameSamples, frameInterval)

	buf := make([]byte, frameBytes)
	var sent int
	start := time.Now()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				log.Fatalf("send datagram: %v", werr)
			}
			sent++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatalf("read audio: %v", err)
		}
		<-ticker.C
	}

	log.Printf("done: %d datagrams in %s", sent, time.Since(start).Round(time.Millisecond))
}
