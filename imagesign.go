// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"fmt"

	"go.mozilla.org/pkcs7"
)

// KernelSignature verifies that a kernel image blob was produced by the
// platform vendor before it is trusted as the shared base every program
// snapshot is cloned from. A device accepting an unsigned kernel blob is
// a real deployment hazard worth guarding against.
type KernelSignature struct {
	// Detached is the PKCS#7 SignedData blob accompanying the kernel
	// image, analogous to a WIN_CERTIFICATE security directory entry.
	Detached []byte
}

// Verify checks that Detached is a well-formed PKCS#7 signature over
// kernelImage and that it validates against the bundled certificate
// chain. It does not perform trust-root/CA-chain validation beyond what
// go.mozilla.org/pkcs7 itself implements; a production deployment would
// additionally pin the signer's certificate, which is left to the
// caller (Signers lists the embedded certificates' subject names).
func (ks *KernelSignature) Verify(kernelImage []byte) error {
	p7, err := pkcs7.Parse(ks.Detached)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	p7.Content = kernelImage
	if err := p7.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Signers returns the subject common names of every certificate embedded
// in Detached, for callers that want to additionally pin against a known
// vendor certificate before trusting the kernel. It does not verify any
// signature; Verify does that.
func (ks *KernelSignature) Signers() ([]string, error) {
	p7, err := pkcs7.Parse(ks.Detached)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var names []string
	for _, cert := range p7.Certificates {
		names = append(names, cert.Subject.CommonName)
	}
	return names, nil
}
