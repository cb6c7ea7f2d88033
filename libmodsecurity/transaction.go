//go:build libmodsecurity

package libmodsecurity

/*
#include <stdlib.h>
#include <modsecurity/modsecurity.h>
#include <modsecurity/transaction.h>
#include <modsecurity/intervention.h>

static int mscwaf_intervention(Transaction *t, ModSecurityIntervention *it) {
	it->status = 200;
	it->pause = 0;
	it->url = NULL;
	it->log = NULL;
	it->disruptive = 0;
	return msc_intervention(t, it);
}

static void mscwaf_intervention_free(ModSecurityIntervention *it) {
	free(it->url);
	free(it->log);
	it->url = NULL;
	it->log = NULL;
}
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"mscwaf/waf"
)

type transactionImpl struct {
	txn    *C.Transaction
	handle cgo.Handle
}

// emptyBytes backs zero length arguments, the engine never gets NULL.
var emptyBytes = C.CBytes([]byte{0})

// ucharp points C at b for the duration of a call. libmodsecurity copies what it keeps.
func ucharp(b []byte) *C.uchar {
	if len(b) == 0 {
		return (*C.uchar)(emptyBytes)
	}
	return (*C.uchar)(unsafe.Pointer(&b[0]))
}

func (t *transactionImpl) ProcessConnection(client string, clientPort int, server string, serverPort int) bool {
	cclient := C.CString(client)
	defer C.free(unsafe.Pointer(cclient))
	cserver := C.CString(server)
	defer C.free(unsafe.Pointer(cserver))

	return C.msc_process_connection(t.txn, cclient, C.int(clientPort), cserver, C.int(serverPort)) != 0
}

func (t *transactionImpl) ProcessURI(uri string, method string, httpVersion string) bool {
	curi := C.CString(uri)
	defer C.free(unsafe.Pointer(curi))
	cmethod := C.CString(method)
	defer C.free(unsafe.Pointer(cmethod))
	cversion := C.CString(httpVersion)
	defer C.free(unsafe.Pointer(cversion))

	return C.msc_process_uri(t.txn, curi, cmethod, cversion) != 0
}

func (t *transactionImpl) AddRequestHeader(key []byte, value []byte) bool {
	return C.msc_add_n_request_header(t.txn, ucharp(key), C.size_t(len(key)), ucharp(value), C.size_t(len(value))) != 0
}

func (t *transactionImpl) ProcessRequestHeaders() bool {
	return C.msc_process_request_headers(t.txn) != 0
}

func (t *transactionImpl) AppendRequestBody(body []byte) bool {
	return C.msc_append_request_body(t.txn, ucharp(body), C.size_t(len(body))) != 0
}

func (t *transactionImpl) ProcessRequestBody() bool {
	return C.msc_process_request_body(t.txn) != 0
}

func (t *transactionImpl) AddResponseHeader(key []byte, value []byte) bool {
	return C.msc_add_n_response_header(t.txn, ucharp(key), C.size_t(len(key)), ucharp(value), C.size_t(len(value))) != 0
}

func (t *transactionImpl) ProcessResponseHeaders(status int, protocol string) bool {
	cprotocol := C.CString(protocol)
	defer C.free(unsafe.Pointer(cprotocol))

	return C.msc_process_response_headers(t.txn, C.int(status), cprotocol) != 0
}

func (t *transactionImpl) UpdateStatusCode(status int) bool {
	return C.msc_update_status_code(t.txn, C.int(status)) != 0
}

func (t *transactionImpl) AppendResponseBody(body []byte) bool {
	return C.msc_append_response_body(t.txn, ucharp(body), C.size_t(len(body))) != 0
}

func (t *transactionImpl) ProcessResponseBody() bool {
	return C.msc_process_response_body(t.txn) != 0
}

func (t *transactionImpl) ProcessLogging() bool {
	return C.msc_process_logging(t.txn) != 0
}

func (t *transactionImpl) Intervention() (it waf.Intervention, populated bool) {
	var cit C.ModSecurityIntervention
	populated = C.mscwaf_intervention(t.txn, &cit) != 0
	defer C.mscwaf_intervention_free(&cit)

	if !populated {
		return
	}
	it = waf.Intervention{
		Status:     int(cit.status),
		Pause:      int(cit.pause),
		Disruptive: cit.disruptive != 0,
	}
	if cit.url != nil {
		it.URL = C.GoString(cit.url)
	}
	if cit.log != nil {
		it.Log = C.GoString(cit.log)
	}
	return
}

func (t *transactionImpl) Cleanup() error {
	if t.txn == nil {
		return errReleased
	}
	C.msc_transaction_cleanup(t.txn)
	t.txn = nil
	t.handle.Delete()
	return nil
}
