//go:build !unix

package container

func hostOwner() Owner {
	return Owner{}
}
