package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/openemg/kraken/pkg/kraken"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// subscriberBuffer is the per-connection queue. A subscriber that falls
// this far behind the stream is disconnected rather than allowed to stall
// or skew the bridge.
const subscriberBuffer = 64

// TCPStreamOutput is the outlet downstream consumers connect to. Each
// connection first receives one JSON line with the stream identity, then a
// binary record per sample: the acquisition index as a little-endian
// uint64 followed by one little-endian float32 per channel.
//
// Sample order is preserved per subscriber. Losing a subscriber never
// stops the stream; losing the listener does.
type TCPStreamOutput struct {
	addr     string
	info     kraken.StreamInfo
	recvChan chan *kraken.Sample
	metrics  api.WriteAPI

	mu          sync.Mutex
	subscribers map[string]chan *kraken.Sample
	listener    net.Listener
}

func NewTCPStreamOutput(addr string, info kraken.StreamInfo, metrics api.WriteAPI) *TCPStreamOutput {
	return &TCPStreamOutput{
		addr:        addr,
		info:        info,
		recvChan:    make(chan *kraken.Sample, 1),
		metrics:     metrics,
		subscribers: make(map[string]chan *kraken.Sample),
	}
}

func (s *TCPStreamOutput) Receive() chan<- *kraken.Sample {
	return s.recvChan
}

// Addr returns the bound listen address once Start has opened it, else nil.
func (s *TCPStreamOutput) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPStreamOutput) subscribe(id string) chan *kraken.Sample {
	ch := make(chan *kraken.Sample, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *TCPStreamOutput) unsubscribe(id string) {
	s.mu.Lock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
}

func (s *TCPStreamOutput) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("stream outlet listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Str("stream", s.info.Name).Msg("stream outlet listening")

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return ctx.Err()
	})

	eg.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("stream outlet accept: %w", err)
			}
			thisConn := conn
			eg.Go(func() error {
				s.serveConn(ctx, thisConn)
				return nil
			})
		}
	})

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case sample := <-s.recvChan:
				s.fanout(sample)
			}
		}
	})

	return eg.Wait()
}

func (s *TCPStreamOutput) fanout(sample *kraken.Sample) {
	var sent, dropped int
	s.mu.Lock()
	for id, ch := range s.subscribers {
		select {
		case ch <- sample:
			sent++
		default:
			// Full queue means a stalled reader. Cut it loose so it cannot
			// hold the stream back.
			close(ch)
			delete(s.subscribers, id)
			dropped++
			log.Warn().Str("subscriber", id).Msg("subscriber too slow, disconnecting")
		}
	}
	s.mu.Unlock()

	go s.metrics.WritePoint(influxdb2.NewPoint("stream.sent_sample",
		map[string]string{
			"stream": s.info.Name,
		},
		map[string]interface{}{
			"index":       sample.Index,
			"subscribers": sent,
			"dropped":     dropped,
		}, time.Now()))
}

func (s *TCPStreamOutput) serveConn(ctx context.Context, conn net.Conn) {
	id := conn.RemoteAddr().String()
	ch := s.subscribe(id)
	defer s.unsubscribe(id)
	defer conn.Close()

	log.Info().Str("subscriber", id).Str("stream", s.info.Name).Msg("subscriber connected")

	header, err := json.Marshal(s.info)
	if err != nil {
		log.Error().Err(err).Msg("marshaling stream header")
		return
	}
	if _, err := conn.Write(append(header, '\n')); err != nil {
		log.Warn().Err(err).Str("subscriber", id).Msg("writing stream header")
		return
	}

	// Watch ctx so a blocked Write cannot outlive shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var msgBuf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				return
			}
			msgBuf.Reset()
			if err := binary.Write(&msgBuf, binary.LittleEndian, sample.Index); err != nil {
				log.Error().Err(err).Msg("encoding sample index")
				return
			}
			if err := binary.Write(&msgBuf, binary.LittleEndian, sample.Values); err != nil {
				log.Error().Err(err).Msg("encoding sample values")
				return
			}
			if _, err := conn.Write(msgBuf.Bytes()); err != nil {
				log.Info().Str("subscriber", id).Msg("subscriber disconnected")
				return
			}
		}
	}
}
