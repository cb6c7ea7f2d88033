//go:build libmodsecurity

package libmodsecurity

/*
#cgo LDFLAGS: -lmodsecurity
#include <stdint.h>
#include <stdlib.h>
#include <modsecurity/modsecurity.h>
#include <modsecurity/rules_set.h>
#include <modsecurity/transaction.h>
#include <modsecurity/intervention.h>

#include "_cgo_export.h"

static void mscwaf_log_cb(void *data, const void *msg) {
	goLogCallback((uintptr_t)data, (char *)msg);
}

static void mscwaf_set_log_cb(ModSecurity *msc) {
	msc_set_log_cb(msc, mscwaf_log_cb);
}

static Transaction *mscwaf_new_transaction(ModSecurity *msc, RulesSet *rules, uintptr_t handle) {
	return msc_new_transaction(msc, rules, (void *)handle);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"mscwaf/waf"
)

var errReleased = errors.New("handle already released")

type connectorImpl struct{}

// NewConnector creates a waf.Connector backed by libmodsecurity.
func NewConnector() waf.Connector {
	return &connectorImpl{}
}

func (c *connectorImpl) NewSession() (s waf.EngineSession, err error) {
	msc := C.msc_init()
	if msc == nil {
		err = errors.New("msc_init returned no instance")
		return
	}

	si := &sessionImpl{msc: msc}
	C.mscwaf_set_log_cb(msc)
	registerSession(si)

	s = si
	return
}

type sessionImpl struct {
	msc   *C.ModSecurity
	mu    sync.RWMutex
	logCb waf.LogCallback
}

func (s *sessionImpl) SetConnectorInfo(info string) {
	cs := C.CString(info)
	defer C.free(unsafe.Pointer(cs))
	C.msc_set_connector_info(s.msc, cs)
}

func (s *sessionImpl) SetLogCallback(cb waf.LogCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logCb = cb
}

func (s *sessionImpl) WhoAmI() string {
	return C.GoString(C.msc_who_am_i(s.msc))
}

func (s *sessionImpl) NewRuleSet() (r waf.RuleSetHandle, err error) {
	rules := C.msc_create_rules_set()
	if rules == nil {
		err = errors.New("msc_create_rules_set returned no rule set")
		return
	}
	r = &ruleSetImpl{rules: rules}
	return
}

func (s *sessionImpl) NewTransaction(rules waf.RuleSetHandle, logTag string) (t waf.TransactionHandle, err error) {
	rs, ok := rules.(*ruleSetImpl)
	if !ok || rs.rules == nil {
		err = fmt.Errorf("rule set %T was not created by this connector", rules)
		return
	}

	h := cgo.NewHandle(&transactionLog{session: s, tag: logTag})
	txn := C.mscwaf_new_transaction(s.msc, rs.rules, C.uintptr_t(h))
	if txn == nil {
		h.Delete()
		err = errors.New("msc_new_transaction returned no transaction")
		return
	}

	t = &transactionImpl{txn: txn, handle: h}
	return
}

func (s *sessionImpl) Cleanup() error {
	unregisterSession(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msc == nil {
		return errReleased
	}

	C.msc_cleanup(s.msc)
	s.msc = nil
	s.logCb = nil
	return nil
}

type ruleSetImpl struct {
	rules *C.RulesSet
}

// ruleResult turns the count and out-param error of the msc_rules_add family into Go values.
func ruleResult(call string, rv C.int, cerr *C.char) (n int, err error) {
	if cerr != nil {
		defer C.free(unsafe.Pointer(cerr))
	}
	if rv < 0 {
		msg := call + " failed"
		if cerr != nil {
			msg = C.GoString(cerr)
		}
		err = errors.New(msg)
		return
	}
	n = int(rv)
	return
}

func (r *ruleSetImpl) AddFile(path string) (int, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var cerr *C.char
	rv := C.msc_rules_add_file(r.rules, cpath, &cerr)
	return ruleResult("msc_rules_add_file", rv, cerr)
}

func (r *ruleSetImpl) Add(rules string) (int, error) {
	crules := C.CString(rules)
	defer C.free(unsafe.Pointer(crules))

	var cerr *C.char
	rv := C.msc_rules_add(r.rules, crules, &cerr)
	return ruleResult("msc_rules_add", rv, cerr)
}

func (r *ruleSetImpl) AddRemote(key string, url string) (int, error) {
	ckey := C.CString(key)
	defer C.free(unsafe.Pointer(ckey))
	curl := C.CString(url)
	defer C.free(unsafe.Pointer(curl))

	var cerr *C.char
	rv := C.msc_rules_add_remote(r.rules, ckey, curl, &cerr)
	return ruleResult("msc_rules_add_remote", rv, cerr)
}

func (r *ruleSetImpl) Merge(from waf.RuleSetHandle) (n int, err error) {
	other, ok := from.(*ruleSetImpl)
	if !ok || other.rules == nil {
		err = fmt.Errorf("rule set %T was not created by this connector", from)
		return
	}

	var cerr *C.char
	rv := C.msc_rules_merge(r.rules, other.rules, &cerr)
	return ruleResult("msc_rules_merge", rv, cerr)
}

func (r *ruleSetImpl) Dump() {
	C.msc_rules_dump(r.rules)
}

func (r *ruleSetImpl) Cleanup() error {
	if r.rules == nil {
		return errReleased
	}
	rv := C.msc_rules_cleanup(r.rules)
	r.rules = nil
	if rv < 0 {
		return fmt.Errorf("msc_rules_cleanup returned %d", int(rv))
	}
	return nil
}
