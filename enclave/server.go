package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/batchauction/enclaveapi"
)

// EnclaveServer serves decryption agent requests over vsock.
type EnclaveServer struct {
	port        uint32
	keyManager  *KeyManager
	newAttester func() (EnclaveAttester, error)
}

func NewEnclaveServer(port uint32) *EnclaveServer {
	return &EnclaveServer{
		port:        port,
		keyManager:  NewKeyManager(),
		newAttester: getEnclaveAttester,
	}
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func (s *EnclaveServer) Start() error {
	listener, err := vsock.Listen(s.port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: TEE server listening on vsock port %d", s.port)

	maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}
	semaphore := make(chan struct{}, maxWorkers)

	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("ERROR: Failed to accept vsock connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *EnclaveServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	response := s.handleRequest(context.Background(), buf.Bytes())

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// handleRequest dispatches one JSON request by its type tag.
func (s *EnclaveServer) handleRequest(ctx context.Context, raw []byte) any {
	requestID := uuid.NewString()
	errorResponse := func(format string, args ...any) enclaveapi.ErrorResponse {
		msg := fmt.Sprintf(format, args...)
		log.Printf("ERROR: [%s] %s", requestID, msg)
		return enclaveapi.ErrorResponse{Type: enclaveapi.TypeError, RequestID: requestID, Message: msg}
	}

	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		return errorResponse("Failed to decode base request: %v", err)
	}

	log.Printf("INFO: [%s] Received request type: %s", requestID, baseReq.Type)

	switch baseReq.Type {
	case enclaveapi.TypePing:
		return map[string]any{
			"type":      enclaveapi.TypePong,
			"message":   "TEE server is healthy",
			"auctions":  s.keyManager.Len(),
			"timestamp": time.Now().Unix(),
		}

	case enclaveapi.TypeKeyRequest:
		var req enclaveapi.KeyRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResponse("Failed to decode key request: %v", err)
		}
		attester, err := s.newAttester()
		if err != nil {
			return errorResponse("Failed to initialize TEE attester: %v", err)
		}
		resp, err := HandleKeyRequest(attester, s.keyManager, req, requestID)
		if err != nil {
			return errorResponse("Key request failed: %v", err)
		}
		return resp

	case enclaveapi.TypeRevealRequest:
		var req enclaveapi.RevealRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResponse("Failed to decode reveal request: %v", err)
		}
		return ProcessReveal(ctx, req, s.keyManager, requestID)

	case enclaveapi.TypeClearingRequest:
		var req enclaveapi.ClearingRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResponse("Failed to decode clearing request: %v", err)
		}
		attester, err := s.newAttester()
		if err != nil {
			return errorResponse("Failed to initialize TEE attester: %v", err)
		}
		return ProcessClearing(attester, req, requestID)

	case enclaveapi.TypeForgetRequest:
		var req enclaveapi.ForgetRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResponse("Failed to decode forget request: %v", err)
		}
		return map[string]any{
			"type":       enclaveapi.TypeForgetResponse,
			"request_id": requestID,
			"forgotten":  s.keyManager.Forget(req.AuctionID),
		}

	default:
		return errorResponse("Unknown request type: %s", baseReq.Type)
	}
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	if os.Getenv(key) == "" {
		return fallback, nil
	}
	return getRequiredEnvInt(key)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: Failed to load .env: %v", err)
	}
	port, err := getEnvInt("ENCLAVE_PORT", 5000)
	if err != nil {
		log.Fatal(err)
	}
	server := NewEnclaveServer(uint32(port))
	log.Fatal(server.Start())
}
