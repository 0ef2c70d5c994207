package pebblestore

import (
	"fmt"

	"lv-walletledger/internal/model"
)

// Key layout:
//
//	acct/id/<account id>                 -> account JSON
//	acct/key/<user>|<currency>|<type>    -> account id
//	acct/user/<user>/<account id>        -> empty
//	entry/<account id>/<seq:020d>        -> entry JSON
//	idem/<idempotency key>               -> entry key

func accountKey(id string) []byte {
	return []byte("acct/id/" + id)
}

func accountIndexKey(key model.AccountKey) []byte {
	return []byte("acct/key/" + key.String())
}

func userIndexPrefix(userID string) []byte {
	return []byte("acct/user/" + userID + "/")
}

func userIndexKey(userID, accountID string) []byte {
	return append(userIndexPrefix(userID), accountID...)
}

func entryPrefix(accountID string) []byte {
	return []byte("entry/" + accountID + "/")
}

func entryKey(accountID string, seq int64) []byte {
	return []byte(fmt.Sprintf("entry/%s/%020d", accountID, seq))
}

func idemKey(key string) []byte {
	return []byte("idem/" + key)
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
