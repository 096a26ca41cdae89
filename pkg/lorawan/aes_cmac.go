package lorawan

import (
	"crypto/aes"
	"crypto/cipher"
)

// aesCMAC implements AES-CMAC-128 according to RFC 4493.
func aesCMAC(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	k1, k2 := generateSubkeys(block)

	n := len(data)
	var mLast []byte
	var flag bool

	if n == 0 {
		mLast = make([]byte, 16)
		mLast[0] = 0x80
		flag = false
		for i := 0; i < 16; i++ {
			mLast[i] ^= k2[i]
		}
	} else {
		numBlocks := (n + 15) / 16
		if n%16 == 0 {
			flag = true
			mLast = make([]byte, 16)
			copy(mLast, data[(numBlocks-1)*16:])
			for i := 0; i < 16; i++ {
				mLast[i] ^= k1[i]
			}
		} else {
			flag = false
			mLast = make([]byte, 16)
			remainder := n % 16
			copy(mLast, data[(numBlocks-1)*16:])
			mLast[remainder] = 0x80
			for i := 0; i < 16; i++ {
				mLast[i] ^= k2[i]
			}
		}
	}

	x := make([]byte, 16)
	y := make([]byte, 16)

	numBlocks := len(data) / 16
	if flag {
		numBlocks--
	}

	for i := 0; i < numBlocks; i++ {
		for j := 0; j < 16; j++ {
			y[j] = x[j] ^ data[i*16+j]
		}
		block.Encrypt(x, y)
	}

	for j := 0; j < 16; j++ {
		y[j] = x[j] ^ mLast[j]
	}
	block.Encrypt(x, y)

	return x, nil
}

// generateSubkeys derives K1 and K2 for AES-CMAC from the cipher's
// encryption of an all-zero block.
func generateSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87

	k0 := make([]byte, 16)
	block.Encrypt(k0, make([]byte, 16))

	k1 = leftShift(k0)
	if k0[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = leftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}

	return k1, k2
}

func leftShift(b []byte) []byte {
	result := make([]byte, len(b))
	var overflow byte
	for i := len(b) - 1; i >= 0; i-- {
		result[i] = b[i]<<1 | overflow
		overflow = (b[i] & 0x80) >> 7
	}
	return result
}
